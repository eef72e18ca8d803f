package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of the engine.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	// StatusActive sharing enabled, both loops running.
	StatusActive Status = "active"
	// StatusIdle sharing disabled, both loops stopped.
	StatusIdle     Status = "idle"
	StatusShutdown Status = "shutdown"
)

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// Running reports whether the engine accepts toggles in this status.
func (s Status) Running() bool {
	return s == StatusActive || s == StatusIdle
}

// State is a snapshot of the engine published to observers.
// Balance is encoded as a string to keep two-decimal precision for UI consumers.
type State struct {
	Status           Status          `json:"status"`
	Enabled          bool            `json:"enabled"`
	Balance          decimal.Decimal `json:"balance"`
	UserID           string          `json:"user_id,omitempty"`
	TelemetryBlocked bool            `json:"telemetry_blocked"`
	LastSample       *PositionSample `json:"last_sample,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasUser reports whether remote writes may be attempted.
func (s State) HasUser() bool {
	return s.UserID != ""
}
