package services

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/dpup/locationbar/server/internal/lib/geo"
)

// Pick frames
const (
	FrameGeodetic = "geodetic"
	FrameECEF     = "ecef"
)

// ErrInvalidPick is returned for malformed pick payloads
var ErrInvalidPick = errors.New("invalid pick")

// PickPoint is a pick vertex or intersection, either geodetic (lon, lat,
// height) or cartesian (x, y, z) depending on the pick frame.
type PickPoint struct {
	Longitude float64  `json:"lon"`
	Latitude  float64  `json:"lat"`
	Height    *float64 `json:"height,omitempty"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Z         float64  `json:"z"`
}

// Pick is the result of the client's ray/terrain intersection
type Pick struct {
	Hit          bool        `json:"hit"`
	Frame        string      `json:"frame,omitempty"`
	Intersection PickPoint   `json:"intersection"`
	Vertices     []PickPoint `json:"vertices"`
	Tile         geo.Tile    `json:"tile"`
}

// Triangle converts the pick into a geo.Triangle. A pick that missed the
// surface yields nil.
func (p Pick) Triangle() (*geo.Triangle, error) {
	if !p.Hit {
		return nil, nil
	}
	if len(p.Vertices) != 3 {
		return nil, fmt.Errorf("%w: expected 3 vertices, got %d", ErrInvalidPick, len(p.Vertices))
	}

	tile := p.Tile
	if tile.GeometricError <= 0 {
		tile.GeometricError = geo.EstimatedGeometricError(tile.Level)
	}

	var tri geo.Triangle
	switch p.Frame {
	case "", FrameGeodetic:
		tri = geo.Triangle{
			Intersection: p.Intersection.position(),
			Vertices: [3]geo.Position{
				p.Vertices[0].position(),
				p.Vertices[1].position(),
				p.Vertices[2].position(),
			},
			Tile: tile,
		}
	case FrameECEF:
		tri = geo.TriangleFromECEF(p.Intersection.vector(), [3]r3.Vector{
			p.Vertices[0].vector(),
			p.Vertices[1].vector(),
			p.Vertices[2].vector(),
		}, tile)
	default:
		return nil, fmt.Errorf("%w: unknown frame %q", ErrInvalidPick, p.Frame)
	}

	if err := tri.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPick, err)
	}
	return &tri, nil
}

func (p PickPoint) position() geo.Position {
	return geo.Position{Longitude: p.Longitude, Latitude: p.Latitude, Height: p.Height}
}

func (p PickPoint) vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}
