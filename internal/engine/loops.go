package engine

import (
	"context"
	"sync"

	"github.com/vadiminshakov/captur/internal/clock"
)

// loopPair is the telemetry loop and the accrual clock, started and stopped together.
type loopPair struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// startLoops registers both tickers before returning, so the pair is never
// observed half-started. Callers hold lifecycleMu.
func (e *Engine) startLoops() {
	if e.loops != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	pair := &loopPair{cancel: cancel}

	telemetryTicker := e.clock.NewTicker(e.cfg.TelemetryInterval)
	accrualTicker := e.clock.NewTicker(e.cfg.AccrualInterval)

	pair.wg.Add(2)
	go func() {
		defer pair.wg.Done()
		e.runTelemetry(ctx, telemetryTicker)
	}()
	go func() {
		defer pair.wg.Done()
		e.runAccrual(ctx, accrualTicker)
	}()

	e.loops = pair
}

// stopLoops cancels both loops and waits for them to exit; an in-flight tick
// completes first, and no tick fires after it returns. Callers hold lifecycleMu.
func (e *Engine) stopLoops() {
	if e.loops == nil {
		return
	}

	e.loops.cancel()
	e.loops.wg.Wait()
	e.loops = nil
}

func tickLoop(ctx context.Context, ticker *clock.Ticker, tick func(ctx context.Context)) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// select picks randomly when both are ready
			if ctx.Err() != nil {
				return
			}
			tick(ctx)
		}
	}
}
