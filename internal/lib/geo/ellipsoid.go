package geo

import (
	"errors"

	"github.com/StefanSchroeder/Golang-Ellipsoid/ellipsoid"
	"github.com/golang/geo/r3"
)

// ErrInvalidCoordinate is returned for latitudes outside [-90, 90] or
// longitudes outside [-180, 180]
var ErrInvalidCoordinate = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

var wgs84 = ellipsoid.Init("WGS84", ellipsoid.Degrees, ellipsoid.Meter,
	ellipsoid.LongitudeIsSymmetric, ellipsoid.BearingIsSymmetric)

// FromECEF converts an earth-centered, earth-fixed cartesian position on
// the WGS84 ellipsoid to a geodetic position with height.
func FromECEF(v r3.Vector) Position {
	lat, lon, alt := wgs84.ToLLA(v.X, v.Y, v.Z)
	return Position{Longitude: lon, Latitude: lat, Height: Float(alt)}
}

// ToECEF converts a geodetic position to earth-centered, earth-fixed
// coordinates. A missing height is treated as the ellipsoid surface.
func ToECEF(p Position) r3.Vector {
	var h float64
	if p.Height != nil {
		h = *p.Height
	}
	x, y, z := wgs84.ToECEF(p.Latitude, p.Longitude, h)
	return r3.Vector{X: x, Y: y, Z: z}
}

// TriangleFromECEF builds a Triangle from the cartesian output of a
// renderer's pick.
func TriangleFromECEF(intersection r3.Vector, vertices [3]r3.Vector, tile Tile) Triangle {
	return Triangle{
		Intersection: FromECEF(intersection),
		Vertices: [3]Position{
			FromECEF(vertices[0]),
			FromECEF(vertices[1]),
			FromECEF(vertices[2]),
		},
		Tile: tile,
	}
}
