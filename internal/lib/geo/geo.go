package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/twpayne/go-polyline"
)

// BarycentricEpsilon is the tolerance below zero a weight may reach while
// the point is still considered inside the triangle.
const BarycentricEpsilon = 1e-15

// wgs84MaximumRadius is the WGS84 semi-major axis in meters
const wgs84MaximumRadius = 6378137.0

// Float returns a pointer to v, for populating optional fields
func Float(v float64) *float64 {
	return &v
}

// NewPosition creates a Position without height
func NewPosition(longitude, latitude float64) Position {
	return Position{Longitude: longitude, Latitude: latitude}
}

// HasHeight reports whether the position carries a height
func (p Position) HasHeight() bool {
	return p.Height != nil
}

// WithHeight returns a copy of p with the given height
func (p Position) WithHeight(height float64) Position {
	p.Height = Float(height)
	return p
}

// WithoutHeight returns a copy of p with the height cleared
func (p Position) WithoutHeight() Position {
	p.Height = nil
	return p
}

// Equal compares two positions by value. Heights are equal when both are
// absent or both are present with the same value.
func (p Position) Equal(o Position) bool {
	if p.Longitude != o.Longitude || p.Latitude != o.Latitude {
		return false
	}
	if p.Height == nil || o.Height == nil {
		return p.Height == nil && o.Height == nil
	}
	return *p.Height == *o.Height
}

// Barycentric computes the weights of p relative to the triangle (a, b, c)
// in the longitude/latitude plane. ok is false for a degenerate triangle.
func Barycentric(p, a, b, c Position) (w Weights, ok bool) {
	origin := r2.Point{X: a.Longitude, Y: a.Latitude}
	v0 := r2.Point{X: b.Longitude, Y: b.Latitude}.Sub(origin)
	v1 := r2.Point{X: c.Longitude, Y: c.Latitude}.Sub(origin)
	v2 := r2.Point{X: p.Longitude, Y: p.Latitude}.Sub(origin)

	det := v0.Cross(v1)
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Weights{}, false
	}

	w1 := v2.Cross(v1) / det
	w2 := v0.Cross(v2) / det
	return Weights{1 - w1 - w2, w1, w2}, true
}

// Inside reports whether no weight falls below -epsilon
func (w Weights) Inside(epsilon float64) bool {
	return w[0] >= -epsilon && w[1] >= -epsilon && w[2] >= -epsilon
}

// Interpolate returns the weighted combination of three vertex values
func (w Weights) Interpolate(v0, v1, v2 float64) float64 {
	return w[0]*v0 + w[1]*v1 + w[2]*v2
}

// EstimatedGeometricError returns the maximum geometric error of a
// heightmap terrain tile at the given level of a geographic tiling scheme
// with two root tiles and 65 samples per tile edge.
func EstimatedGeometricError(level int) float64 {
	levelZero := wgs84MaximumRadius * 2 * math.Pi * 0.25 / (65 * 2)
	return levelZero / math.Pow(2, float64(level))
}

// EncodeOutline encodes the closed outline of a triangle as a Google
// polyline so clients can highlight the picked facet.
func EncodeOutline(tri Triangle) string {
	coords := make([][]float64, 0, 4)
	for _, v := range tri.Vertices {
		coords = append(coords, []float64{v.Latitude, v.Longitude})
	}
	coords = append(coords, []float64{tri.Vertices[0].Latitude, tri.Vertices[0].Longitude})
	return string(polyline.EncodeCoords(coords))
}

// DecodeOutline decodes a polyline produced by EncodeOutline
func DecodeOutline(encoded string) ([]Position, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	positions := make([]Position, len(coords))
	for i, c := range coords {
		positions[i] = NewPosition(c[1], c[0])
	}
	return positions, nil
}

// isValidCoordinate validates latitude and longitude values
func isValidCoordinate(p Position) bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// Validate reports whether the position is a valid geographic coordinate
func (p Position) Validate() error {
	if !isValidCoordinate(p) {
		return ErrInvalidCoordinate
	}
	return nil
}

// Validate reports whether every position of the triangle is a valid
// geographic coordinate.
func (t Triangle) Validate() error {
	if !isValidCoordinate(t.Intersection) {
		return ErrInvalidCoordinate
	}
	for _, v := range t.Vertices {
		if !isValidCoordinate(v) {
			return ErrInvalidCoordinate
		}
	}
	return nil
}
