package height

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/locationbar/server/internal/lib/geo"
)

// fixedBounds is a geoid model with constant undulation bounds
type fixedBounds struct {
	min, max float64
}

func (f fixedBounds) Undulation(ctx context.Context, longitude, latitude float64) (float64, error) {
	return 0, nil
}
func (f fixedBounds) MinimumHeight() float64 { return f.min }
func (f fixedBounds) MaximumHeight() float64 { return f.max }

// triangleAt builds a unit triangle with the given vertex heights whose
// intersection sits at the given barycentric weights.
func triangleAt(w geo.Weights, h0, h1, h2 float64, tile geo.Tile) geo.Triangle {
	v0 := geo.NewPosition(150, -34).WithHeight(h0)
	v1 := geo.NewPosition(150.01, -34).WithHeight(h1)
	v2 := geo.NewPosition(150, -33.99).WithHeight(h2)
	lon := w[0]*v0.Longitude + w[1]*v1.Longitude + w[2]*v2.Longitude
	lat := w[0]*v0.Latitude + w[1]*v1.Latitude + w[2]*v2.Latitude
	return geo.Triangle{
		Intersection: geo.NewPosition(lon, lat).WithHeight(-999),
		Vertices:     [3]geo.Position{v0, v1, v2},
		Tile:         tile,
	}
}

func TestEstimate_Interpolates(t *testing.T) {
	tile := geo.Tile{Level: 14, MinimumHeight: -1000, MaximumHeight: 1000, GeometricError: 5}
	est := NewEstimator(nil, false).Estimate(triangleAt(geo.Weights{0.2, 0.3, 0.5}, 10, 20, 30, tile))

	require.True(t, est.HasHeight())
	assert.InDelta(t, 23.0, *est.Position.Height, 1e-6)
	require.NotNil(t, est.ErrorBound)
	assert.InDelta(t, 5.0, *est.ErrorBound, 1e-6, "Without geoid bounds the error is the geometric error")
}

func TestEstimate_InterpolationAcrossWeights(t *testing.T) {
	tile := geo.Tile{MinimumHeight: 0, MaximumHeight: 500, GeometricError: 2}
	estimator := NewEstimator(fixedBounds{min: -30, max: 40}, false)

	for _, w := range []geo.Weights{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
		{1.0 / 3, 1.0 / 3, 1.0 / 3},
		{0.7, 0.1, 0.2},
		{0.05, 0.9, 0.05},
	} {
		est := estimator.Estimate(triangleAt(w, 100, 250, 400, tile))
		require.True(t, est.HasHeight(), "weights %v", w)
		assert.InDelta(t, w[0]*100+w[1]*250+w[2]*400, *est.Position.Height, 1e-6)
		require.NotNil(t, est.ErrorBound)
		assert.GreaterOrEqual(t, *est.ErrorBound, 0.0)
	}
}

func TestErrorBound_Example(t *testing.T) {
	tile := geo.Tile{MinimumHeight: 90, MaximumHeight: 140, GeometricError: 5}

	// minHeight 95, maxHeight 105, with geoid 93 and 108
	bound := ErrorBound(100, tile, fixedBounds{min: 2, max: 3})
	assert.Equal(t, 8.0, bound)
}

func TestErrorBound_ClampedByTileRange(t *testing.T) {
	tile := geo.Tile{MinimumHeight: 99, MaximumHeight: 101, GeometricError: 50}
	assert.Equal(t, 1.0, ErrorBound(100, tile, nil))
}

func TestErrorBound_NonNegative(t *testing.T) {
	cases := []struct {
		approx float64
		tile   geo.Tile
	}{
		{0, geo.Tile{}},
		{-50, geo.Tile{MinimumHeight: 10, MaximumHeight: 20, GeometricError: 1}},
		{500, geo.Tile{MinimumHeight: 10, MaximumHeight: 20, GeometricError: 100}},
		{15, geo.Tile{MinimumHeight: 20, MaximumHeight: 10, GeometricError: 0}},
	}
	for _, tc := range cases {
		assert.GreaterOrEqual(t, ErrorBound(tc.approx, tc.tile, nil), 0.0)
		assert.GreaterOrEqual(t, ErrorBound(tc.approx, tc.tile, fixedBounds{min: -107, max: 85}), 0.0)
	}
}

func TestEstimate_OutsideTriangle(t *testing.T) {
	tri := triangleAt(geo.Weights{1.2, -0.1, -0.1}, 10, 20, 30, geo.Tile{GeometricError: 1})
	est := NewEstimator(nil, false).Estimate(tri)

	assert.False(t, est.HasHeight(), "Points outside the simplex have no height")
	assert.Nil(t, est.ErrorBound)
	assert.Equal(t, tri.Intersection.Longitude, est.Position.Longitude, "Lon/lat come from the raw intersection")
	assert.Equal(t, tri.Intersection.Latitude, est.Position.Latitude)
}

func TestEstimate_DegenerateTriangle(t *testing.T) {
	v := geo.NewPosition(10, 10).WithHeight(5)
	tri := geo.Triangle{
		Intersection: geo.NewPosition(10, 10),
		Vertices:     [3]geo.Position{v, v, v},
	}
	est := NewEstimator(nil, false).Estimate(tri)
	assert.False(t, est.HasHeight())
	assert.Nil(t, est.ErrorBound)
}

func TestEstimate_Ellipsoid(t *testing.T) {
	tri := triangleAt(geo.Weights{0.2, 0.3, 0.5}, 10, 20, 30, geo.Tile{GeometricError: 1})
	est := NewEstimator(fixedBounds{min: 2, max: 3}, true).Estimate(tri)

	assert.False(t, est.HasHeight(), "Flat ellipsoid terrain has no elevation")
	assert.Nil(t, est.ErrorBound)
	assert.InDelta(t, tri.Intersection.Longitude, est.Position.Longitude, 1e-12)
}

func TestEstimate_MissingVertexHeight(t *testing.T) {
	tri := triangleAt(geo.Weights{0.2, 0.3, 0.5}, 10, 20, 30, geo.Tile{})
	tri.Vertices[1] = tri.Vertices[1].WithoutHeight()
	est := NewEstimator(nil, false).Estimate(tri)
	assert.False(t, est.HasHeight())
}
