package geoid

import (
	"context"
	"fmt"

	"github.com/westphae/geomag/pkg/egm96"
)

// Global extremes of the EGM96 undulation surface
const (
	EGM96MinimumHeight = -106.99
	EGM96MaximumHeight = 85.39
)

// EGM96 is the Earth Gravitational Model 1996 evaluated from the
// coefficients embedded in the geomag module.
type EGM96 struct{}

// NewEGM96 creates an EGM96 model
func NewEGM96() *EGM96 {
	return &EGM96{}
}

// Undulation returns the EGM96 geoid height at the given position
func (e *EGM96) Undulation(ctx context.Context, longitude, latitude float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if latitude < -90 || latitude > 90 {
		return 0, ErrOutOfBounds
	}

	// Height above MSL of a point on the ellipsoid is the negated undulation
	loc := egm96.NewLocationGeodetic(latitude, normalizeLongitude(longitude), 0)
	h, err := loc.HeightAboveMSL()
	if err != nil {
		return 0, fmt.Errorf("egm96 lookup at (%.6f, %.6f): %w", longitude, latitude, err)
	}
	return -h, nil
}

// MinimumHeight returns the lowest EGM96 undulation
func (e *EGM96) MinimumHeight() float64 { return EGM96MinimumHeight }

// MaximumHeight returns the highest EGM96 undulation
func (e *EGM96) MaximumHeight() float64 { return EGM96MaximumHeight }

// normalizeLongitude maps any longitude into [-180, 180)
func normalizeLongitude(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
