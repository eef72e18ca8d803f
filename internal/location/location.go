// Package location provides device position sources for the telemetry loop.
package location

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/captur/internal/domain"
)

// ErrPermissionDenied the user has not granted location access. The telemetry
// loop treats it as terminal until permission is granted again.
var ErrPermissionDenied = errors.New("location permission denied")

// Permission is the result of a permission request.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Accuracy trades precision for battery.
type Accuracy int

const (
	AccuracyLowest Accuracy = iota + 1
	AccuracyLow
	// AccuracyBalanced is what the telemetry loop requests: roughly 100m, not exact GPS.
	AccuracyBalanced
	AccuracyHigh
)

// Source reports the device position.
type Source interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context, accuracy Accuracy) (domain.PositionSample, error)
}
