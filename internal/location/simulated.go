package location

import (
	"context"
	"math"
	"sync"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/captur/internal/clock"
	"github.com/vadiminshakov/captur/internal/domain"
)

// jitter in degrees per accuracy level; ~1e-5 deg is about a metre.
var accuracyJitter = map[Accuracy]float64{
	AccuracyLowest:   0.01,
	AccuracyLow:      0.005,
	AccuracyBalanced: 0.001,
	AccuracyHigh:     0.00005,
}

// SimulatedConfig configures a Simulated source.
type SimulatedConfig struct {
	StartLatitude  float64
	StartLongitude float64
	// StepDegrees is the maximum drift per reading.
	StepDegrees float64
	Denied      bool
	// FailureRate in [0,1) makes a share of readings fail with a provider error.
	FailureRate float64
}

// Simulated is a random-walk position source used when no device GPS is available.
type Simulated struct {
	mu        sync.Mutex
	clock     clock.Clock
	latitude  float64
	longitude float64
	step      float64
	denied    bool
	failures  float64
}

// NewSimulated creates a random-walk source.
func NewSimulated(cfg SimulatedConfig, c clock.Clock) *Simulated {
	if c == nil {
		c = clock.Real()
	}
	step := cfg.StepDegrees
	if step <= 0 {
		step = 0.0001
	}

	return &Simulated{
		clock:     c,
		latitude:  cfg.StartLatitude,
		longitude: cfg.StartLongitude,
		step:      step,
		denied:    cfg.Denied,
		failures:  cfg.FailureRate,
	}
}

// RequestPermission reports the simulated permission state.
func (s *Simulated) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionDenied, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.denied {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}

// SetDenied flips the simulated permission.
func (s *Simulated) SetDenied(denied bool) {
	s.mu.Lock()
	s.denied = denied
	s.mu.Unlock()
}

// CurrentPosition advances the walk and returns the new position.
func (s *Simulated) CurrentPosition(ctx context.Context, accuracy Accuracy) (domain.PositionSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.PositionSample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.denied {
		return domain.PositionSample{}, ErrPermissionDenied
	}
	if s.failures > 0 && fastrand.Float64() < s.failures {
		return domain.PositionSample{}, errors.New("simulated provider unavailable")
	}

	s.latitude = clampLatitude(s.latitude + (fastrand.Float64()*2-1)*s.step)
	s.longitude = wrapLongitude(s.longitude + (fastrand.Float64()*2-1)*s.step)

	jitter := accuracyJitter[accuracy]
	lat := clampLatitude(s.latitude + (fastrand.Float64()*2-1)*jitter)
	lon := wrapLongitude(s.longitude + (fastrand.Float64()*2-1)*jitter)

	return domain.NewPositionSample(lat, lon, s.clock.Now())
}

func clampLatitude(v float64) float64 {
	return math.Max(-90, math.Min(90, v))
}

func wrapLongitude(v float64) float64 {
	for v > 180 {
		v -= 360
	}
	for v < -180 {
		v += 360
	}
	return v
}
