package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/captur/internal/clock"
	"github.com/vadiminshakov/captur/internal/domain"
)

func (e *Engine) runAccrual(ctx context.Context, ticker *clock.Ticker) {
	e.l.Debug("Starting accrual clock",
		zap.Duration("interval", e.cfg.AccrualInterval),
		zap.String("max_increment", e.cfg.MaxIncrement.String()))

	tickLoop(ctx, ticker, e.accrueOnce)
	e.l.Debug("Accrual clock stopped")
}

// drawIncrement returns a uniform value in [0, MaxIncrement).
func (e *Engine) drawIncrement() decimal.Decimal {
	f := e.rnd.Float64()
	if f < 0 || f >= 1 {
		f = 0
	}
	return decimal.NewFromFloat(f).Mul(e.cfg.MaxIncrement)
}

// accrueOnce applies one increment. The in-memory balance is updated before
// the remote write is queued, so the next tick always builds on it even if
// the write fails.
func (e *Engine) accrueOnce(context.Context) {
	increment := e.drawIncrement()

	e.mu.Lock()
	next := domain.Accrue(e.state.Balance, increment)
	e.state.Balance = next
	e.state.UpdatedAt = e.clock.Now()
	userID := e.state.UserID
	e.events.Publish(e.state)
	e.mu.Unlock()

	if userID == "" {
		return
	}
	e.writer.Submit(userID, next)
}
