// Package clock lets the engine loops run against real time in production
// and against a manually advanced clock in tests.
package clock

import "time"

// Clock is the subset of the time package the engine depends on.
type Clock interface {
	Now() time.Time
	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
	NewTimer(d time.Duration) *Timer
}

// Ticker delivers ticks on C. C has capacity 1; ticks are dropped when the
// reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Timer delivers a single tick on C after its duration.
type Timer struct {
	C <-chan time.Time

	stop func()
}

// Stop prevents the timer from firing. C is not closed.
func (t *Timer) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

func (realClock) NewTimer(d time.Duration) *Timer {
	timer := time.NewTimer(d)
	return &Timer{C: timer.C, stop: func() { timer.Stop() }}
}
