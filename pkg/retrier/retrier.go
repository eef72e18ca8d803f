// Package retrier repeats remote ledger calls with capped exponential backoff.
package retrier

import (
	"context"
	"math"
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/pkg/errors"
)

const (
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMaxRetries      = 5
	backoffMultiplier      = 2.0
	backoffJitter          = 0.1
)

// Delayer is implemented by errors carrying a server-requested wait, such as
// an HTTP 429 with Retry-After. A positive hint replaces the computed backoff.
type Delayer interface {
	RetryAfter() time.Duration
}

// Retrier runs a call up to maxRetries+1 times. Waits grow by
// backoffMultiplier per attempt with +/-10% jitter and never exceed maxInterval.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	maxRetries      int
	retryIf         func(error) bool
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the wait before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval caps every wait, including server hints.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMaxRetries sets how many times a failed call is repeated.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithRetryIf retries only errors for which fn returns true; other errors
// are returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		maxRetries:      defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// retries or ctx is done. The last error of fn is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.maxRetries || (r.retryIf != nil && !r.retryIf(err)) {
			return err
		}
		if err := sleep(ctx, r.wait(attempt, err)); err != nil {
			return err
		}
	}
}

// DoWithData is Do for calls that return a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (r *Retrier) wait(attempt int, err error) time.Duration {
	var d Delayer
	if errors.As(err, &d) {
		if hint := d.RetryAfter(); hint > 0 {
			return min(hint, r.maxInterval)
		}
	}

	interval := float64(r.initialInterval) * math.Pow(backoffMultiplier, float64(attempt))
	interval = math.Min(interval, float64(r.maxInterval))
	interval += (fastrand.Float64()*2 - 1) * backoffJitter * interval

	return time.Duration(math.Max(interval, 0))
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
