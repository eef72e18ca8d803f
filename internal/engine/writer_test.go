package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatedSetter struct {
	mu      sync.Mutex
	calls   []decimal.Decimal
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedSetter) SetBalance(ctx context.Context, _ string, balance decimal.Decimal) error {
	g.mu.Lock()
	g.calls = append(g.calls, balance)
	first := len(g.calls) == 1
	g.mu.Unlock()

	if first {
		close(g.started)
		select {
		case <-g.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func TestBalanceWriter_WritesEverySubmissionInOrder(t *testing.T) {
	setter := &gatedSetter{started: make(chan struct{}), gate: make(chan struct{})}
	w := newBalanceWriter(zap.NewNop(), setter, context.Background(), 0)

	w.Submit("u1", dec("0.01"))
	<-setter.started

	w.Submit("u1", dec("0.02"))
	w.Submit("u1", dec("0.03"))
	w.Submit("u1", dec("0.04"))
	close(setter.gate)
	w.Wait()

	setter.mu.Lock()
	defer setter.mu.Unlock()
	require.Len(t, setter.calls, 4)
	for i, want := range []string{"0.01", "0.02", "0.03", "0.04"} {
		assert.True(t, setter.calls[i].Equal(dec(want)), "write %d: got %s, want %s", i, setter.calls[i], want)
	}
}

func TestBalanceWriter_CancelDropsQueue(t *testing.T) {
	setter := &gatedSetter{started: make(chan struct{}), gate: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	w := newBalanceWriter(zap.NewNop(), setter, ctx, 0)

	w.Submit("u1", dec("0.01"))
	<-setter.started
	w.Submit("u1", dec("0.02"))
	w.Submit("u1", dec("0.03"))

	cancel()
	w.Wait()

	setter.mu.Lock()
	defer setter.mu.Unlock()
	require.Len(t, setter.calls, 1)
}

func TestBalanceWriter_TimeoutBoundsWrite(t *testing.T) {
	setter := &gatedSetter{started: make(chan struct{}), gate: make(chan struct{})}
	w := newBalanceWriter(zap.NewNop(), setter, context.Background(), 10*time.Millisecond)

	w.Submit("u1", dec("1.00"))

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write was not bounded by the timeout")
	}
}

func TestBalanceWriter_RestartsAfterIdle(t *testing.T) {
	ledger := newFakeLedger()
	w := newBalanceWriter(zap.NewNop(), ledger, context.Background(), 0)

	w.Submit("u1", dec("0.10"))
	w.Wait()
	w.Submit("u1", dec("0.20"))
	w.Wait()

	writes := ledger.writeLog()
	require.Len(t, writes, 2)
	assert.True(t, writes[1].balance.Equal(dec("0.20")))
}
