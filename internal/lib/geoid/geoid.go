// Package geoid provides vertical datum corrections between the WGS84
// ellipsoid and mean sea level.
package geoid

import (
	"context"
	"errors"
)

// ErrOutOfBounds is returned when a lookup falls outside a model's coverage
var ErrOutOfBounds = errors.New("position outside geoid model coverage")

// Model returns the geoid undulation (height of the geoid above the
// ellipsoid, in meters) at a longitude/latitude in degrees, and the global
// bounds of that undulation.
type Model interface {
	Undulation(ctx context.Context, longitude, latitude float64) (float64, error)
	MinimumHeight() float64
	MaximumHeight() float64
}

// Bounds returns the model's minimum and maximum undulation, or zeros when
// no model is configured.
func Bounds(m Model) (minimum, maximum float64) {
	if m == nil {
		return 0, 0
	}
	return m.MinimumHeight(), m.MaximumHeight()
}

// SafeUndulation looks up the undulation and substitutes 0 when the model
// is missing or the lookup fails. The error is returned for logging only.
func SafeUndulation(ctx context.Context, m Model, longitude, latitude float64) (float64, error) {
	if m == nil {
		return 0, nil
	}
	n, err := m.Undulation(ctx, longitude, latitude)
	if err != nil {
		return 0, err
	}
	return n, nil
}
