// Package height computes instantaneous terrain heights from a picked mesh
// triangle together with a bound on their vertical error.
package height

import (
	"math"

	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/lib/geoid"
)

// Estimate is a fast height estimate. Position.Height is nil when no
// height could be derived; ErrorBound is nil whenever Height is.
type Estimate struct {
	Position   geo.Position `json:"position"`
	ErrorBound *float64     `json:"error_bound,omitempty"`
}

// HasHeight reports whether the estimate produced a height
func (e Estimate) HasHeight() bool {
	return e.Position.Height != nil
}

// Estimator derives heights from picked triangles. Ellipsoid marks a
// terrain surface without elevation data. Geoid may be nil.
type Estimator struct {
	Geoid     geoid.Model
	Ellipsoid bool
}

// NewEstimator creates an Estimator
func NewEstimator(model geoid.Model, ellipsoid bool) *Estimator {
	return &Estimator{Geoid: model, Ellipsoid: ellipsoid}
}

// Estimate interpolates the intersection height from the triangle's
// vertex heights and bounds its error by the tile's geometric error, the
// tile height range and the geoid bounds.
func (e *Estimator) Estimate(tri geo.Triangle) Estimate {
	result := Estimate{
		Position: geo.NewPosition(tri.Intersection.Longitude, tri.Intersection.Latitude),
	}
	if e.Ellipsoid {
		return result
	}

	v0, v1, v2 := tri.Vertices[0], tri.Vertices[1], tri.Vertices[2]
	if !v0.HasHeight() || !v1.HasHeight() || !v2.HasHeight() {
		return result
	}

	weights, ok := geo.Barycentric(tri.Intersection, v0, v1, v2)
	if !ok || !weights.Inside(geo.BarycentricEpsilon) {
		return result
	}

	approx := weights.Interpolate(*v0.Height, *v1.Height, *v2.Height)
	result.Position.Height = geo.Float(approx)
	result.ErrorBound = geo.Float(ErrorBound(approx, tri.Tile, e.Geoid))
	return result
}

// ErrorBound returns the vertical uncertainty of an approximate height.
// The tile's geometric error is clamped to the tile's height range and
// widened by the geoid's undulation range.
func ErrorBound(approx float64, tile geo.Tile, model geoid.Model) float64 {
	geoidMin, geoidMax := geoid.Bounds(model)

	minHeight := math.Max(tile.MinimumHeight, approx-tile.GeometricError)
	maxHeight := math.Min(tile.MaximumHeight, approx+tile.GeometricError)
	minHeightGeoid := minHeight - geoidMin
	maxHeightGeoid := maxHeight + geoidMax

	return math.Max(math.Abs(approx-minHeightGeoid), math.Abs(maxHeightGeoid-approx))
}
