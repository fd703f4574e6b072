package geo

// Position represents a geodetic coordinate in degrees with an optional
// height in meters above the WGS84 ellipsoid. A nil Height means no
// elevation is known for the position.
type Position struct {
	Longitude float64  `json:"lon"`
	Latitude  float64  `json:"lat"`
	Height    *float64 `json:"height,omitempty"`
}

// Tile describes the terrain tile a triangle was picked from
type Tile struct {
	Level          int     `json:"level"`
	MinimumHeight  float64 `json:"min_height"`
	MaximumHeight  float64 `json:"max_height"`
	GeometricError float64 `json:"geometric_error"`
}

// Triangle is the result of a ray/triangle pick against the terrain mesh.
// Intersection carries the lon/lat of the ray hit; its height is the raw
// hit height and is not used for interpolation.
type Triangle struct {
	Intersection Position    `json:"intersection"`
	Vertices     [3]Position `json:"vertices"`
	Tile         Tile        `json:"tile"`
}

// Weights are barycentric coordinates relative to a triangle's vertices
type Weights [3]float64
