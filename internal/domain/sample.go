// Package domain defines core data structures shared by the telemetry engine and its adapters.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PositionSample is a single device position captured by the telemetry loop.
type PositionSample struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewPositionSample creates a sample with a fresh client-side ID.
func NewPositionSample(latitude, longitude float64, capturedAt time.Time) (PositionSample, error) {
	if latitude < -90 || latitude > 90 {
		return PositionSample{}, errors.Errorf("latitude out of range: %f", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return PositionSample{}, errors.Errorf("longitude out of range: %f", longitude)
	}

	return PositionSample{
		ID:         uuid.New().String(),
		Latitude:   latitude,
		Longitude:  longitude,
		CapturedAt: capturedAt,
	}, nil
}

// ForUser returns a copy of the sample tagged with the given user.
func (s PositionSample) ForUser(userID string) PositionSample {
	s.UserID = userID
	return s
}
