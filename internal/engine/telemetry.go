package engine

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/captur/internal/clock"
	"github.com/vadiminshakov/captur/internal/domain"
	"github.com/vadiminshakov/captur/internal/location"
)

// runTelemetry asks for permission, takes a first sample right away and then
// one per tick until ctx is cancelled.
func (e *Engine) runTelemetry(ctx context.Context, ticker *clock.Ticker) {
	e.l.Debug("Starting telemetry loop", zap.Duration("interval", e.cfg.TelemetryInterval))

	e.checkPermission(ctx)
	if ctx.Err() == nil {
		e.sampleOnce(ctx)
	}

	tickLoop(ctx, ticker, e.sampleOnce)
	e.l.Debug("Telemetry loop stopped")
}

func (e *Engine) checkPermission(ctx context.Context) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	perm, err := e.source.RequestPermission(callCtx)
	if err != nil {
		if ctx.Err() == nil {
			e.l.Error("Error requesting location permissions", zap.Error(err))
		}
		return
	}

	e.setTelemetryBlocked(perm != location.PermissionGranted)
}

// sampleOnce acquires a position and forwards it when a user is signed in.
// Errors end the tick, not the loop; permission denial blocks further
// requests until permission is granted again.
func (e *Engine) sampleOnce(ctx context.Context) {
	e.mu.Lock()
	blocked := e.state.TelemetryBlocked
	e.mu.Unlock()
	if blocked {
		return
	}

	callCtx, cancel := e.callContext(ctx)
	sample, err := e.source.CurrentPosition(callCtx, location.AccuracyBalanced)
	cancel()
	if err != nil {
		if errors.Is(err, location.ErrPermissionDenied) {
			e.setTelemetryBlocked(true)
			return
		}
		if ctx.Err() == nil {
			e.l.Warn("Could not fetch current location", zap.Error(err))
		}
		return
	}

	e.mu.Lock()
	userID := e.state.UserID
	last := sample
	e.state.LastSample = &last
	e.state.UpdatedAt = e.clock.Now()
	e.events.Publish(e.state)
	e.mu.Unlock()

	if userID == "" {
		e.l.Debug("User ID not available, skipping location send")
		return
	}

	e.forwardSample(sample.ForUser(userID))
}

// forwardSample inserts without blocking the tick and without retrying;
// the next tick's sample supersedes a lost one.
func (e *Engine) forwardSample(sample domain.PositionSample) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()

		ctx, cancel := e.callContext(e.ioCtx)
		defer cancel()

		if err := e.ledger.InsertSample(ctx, sample); err != nil {
			e.l.Error("Error sending location", zap.String("sample_id", sample.ID), zap.Error(err))
			return
		}
		e.l.Debug("Location sent", zap.String("sample_id", sample.ID))
	}()
}
