package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccrue(t *testing.T) {
	tests := []struct {
		name      string
		balance   string
		increment string
		expected  string
	}{
		{name: "zero increment", balance: "1.23", increment: "0", expected: "1.23"},
		{name: "rounds down", balance: "0", increment: "0.0349", expected: "0.03"},
		{name: "half rounds up", balance: "0", increment: "0.035", expected: "0.04"},
		{name: "carries", balance: "0.99", increment: "0.0499", expected: "1.04"},
		{name: "negative increment ignored", balance: "2.50", increment: "-0.01", expected: "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Accrue(decimal.RequireFromString(tt.balance), decimal.RequireFromString(tt.increment))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)), "got %s", got)
			assert.LessOrEqual(t, -got.Exponent(), int32(BalancePlaces))
		})
	}
}

func TestAccrue_ExampleSequence(t *testing.T) {
	balance := decimal.Zero
	balance = Accrue(balance, decimal.NewFromFloat(0.03))
	assert.Equal(t, "0.03", balance.StringFixed(BalancePlaces))
	balance = Accrue(balance, decimal.NewFromFloat(0.04))
	assert.Equal(t, "0.07", balance.StringFixed(BalancePlaces))
}

func TestNormalizeBalance(t *testing.T) {
	assert.True(t, NormalizeBalance(decimal.NewFromFloat(-3)).IsZero())
	assert.Equal(t, "12.35", NormalizeBalance(decimal.RequireFromString("12.345")).String())
}

func TestNewPositionSample(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	sample, err := NewPositionSample(52.52, 13.405, now)
	require.NoError(t, err)
	assert.NotEmpty(t, sample.ID)
	assert.Empty(t, sample.UserID)
	assert.Equal(t, now, sample.CapturedAt)

	tagged := sample.ForUser("user-1")
	assert.Equal(t, "user-1", tagged.UserID)
	assert.Equal(t, sample.ID, tagged.ID)
	assert.Empty(t, sample.UserID, "ForUser must not mutate the receiver")

	_, err = NewPositionSample(91, 0, now)
	assert.Error(t, err)
	_, err = NewPositionSample(0, -181, now)
	assert.Error(t, err)
}

func TestStatus_Running(t *testing.T) {
	assert.True(t, StatusActive.Running())
	assert.True(t, StatusIdle.Running())
	assert.False(t, StatusUninitialized.Running())
	assert.False(t, StatusInitializing.Running())
	assert.False(t, StatusShutdown.Running())
}
