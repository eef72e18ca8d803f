package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/captur/internal/domain"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLedger_BalanceNotFound(t *testing.T) {
	l := newTestLedger(t)

	balance, err := l.GetBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, balance.IsZero())
}

func TestSQLiteLedger_SetBalanceLastWriteWins(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SetBalance(ctx, "user-1", decimal.RequireFromString("0.03")))
	require.NoError(t, l.SetBalance(ctx, "user-1", decimal.RequireFromString("0.07")))
	require.NoError(t, l.SetBalance(ctx, "user-2", decimal.RequireFromString("5")))

	balance, err := l.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "0.07", balance.String())

	balance, err = l.GetBalance(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(5)))
}

func TestSQLiteLedger_Samples(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		sample, err := domain.NewPositionSample(10+float64(i), 20, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, l.InsertSample(ctx, sample.ForUser("user-1")))
	}

	n, err := l.sampleCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recent, err := l.recentSamples(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 12.0, recent[0].Latitude)
	assert.True(t, recent[0].CapturedAt.Equal(base.Add(2*time.Second)))

	n, err = l.sampleCount(ctx, "user-2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteLedger_SampleWithoutUser(t *testing.T) {
	l := newTestLedger(t)
	sample, err := domain.NewPositionSample(1, 1, time.Now())
	require.NoError(t, err)

	assert.Error(t, l.InsertSample(context.Background(), sample))
}
