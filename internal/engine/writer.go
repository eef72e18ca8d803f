package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/captur/internal/domain"
)

type balanceSetter interface {
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
}

type pendingBalance struct {
	userID  string
	balance decimal.Decimal
}

// balanceWriter persists every submitted balance, one at a time and in
// submission order, so the ledger sees each tick and ends on the newest
// local balance. Failed writes are logged and never retried; the next
// submission overwrites them. Once ctx is cancelled the remaining queue is
// dropped.
type balanceWriter struct {
	l       *zap.Logger
	ledger  balanceSetter
	ctx     context.Context
	timeout time.Duration

	mu      sync.Mutex
	queue   []pendingBalance
	running bool
	wg      sync.WaitGroup
}

func newBalanceWriter(l *zap.Logger, ledger balanceSetter, ctx context.Context, timeout time.Duration) *balanceWriter {
	return &balanceWriter{l: l, ledger: ledger, ctx: ctx, timeout: timeout}
}

// Submit appends balance for userID to the write queue.
func (w *balanceWriter) Submit(userID string, balance decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.queue = append(w.queue, pendingBalance{userID: userID, balance: balance})
	if w.running {
		return
	}
	w.running = true
	w.wg.Add(1)
	go w.run()
}

// Wait blocks until the queue is empty and no write is running.
func (w *balanceWriter) Wait() {
	w.wg.Wait()
}

func (w *balanceWriter) run() {
	defer w.wg.Done()

	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.running = false
			w.mu.Unlock()
			return
		}
		if w.ctx.Err() != nil {
			dropped := len(w.queue)
			w.queue = nil
			w.running = false
			w.mu.Unlock()
			w.l.Warn("Dropping queued balance writes", zap.Int("count", dropped), zap.Error(w.ctx.Err()))
			return
		}
		p := w.queue[0]
		w.queue[0] = pendingBalance{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.write(p)
	}
}

func (w *balanceWriter) write(p pendingBalance) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if w.timeout > 0 {
		ctx, cancel = context.WithTimeout(w.ctx, w.timeout)
	} else {
		ctx, cancel = context.WithCancel(w.ctx)
	}
	defer cancel()

	if err := w.ledger.SetBalance(ctx, p.userID, p.balance); err != nil {
		w.l.Error("Error saving balance",
			zap.String("user_id", p.userID),
			zap.String("balance", p.balance.StringFixed(domain.BalancePlaces)),
			zap.Error(err))
		return
	}
	w.l.Debug("Balance saved", zap.String("user_id", p.userID), zap.String("balance", p.balance.StringFixed(domain.BalancePlaces)))
}
