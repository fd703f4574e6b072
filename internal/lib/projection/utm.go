// Package projection projects geographic coordinates onto UTM grid zones.
package projection

import "github.com/wroge/wgs84"

// UTM grid constants
const (
	ScaleFactor        = 0.9996
	FalseEasting       = 500000.0
	FalseNorthingSouth = 10000000.0
	ZoneWidth          = 6.0
)

// Datums the grid can be projected on. Input coordinates are always WGS84
// longitude/latitude.
var (
	GRS80 = wgs84.Datum{Spheroid: wgs84.GRS80{}, Area: wgs84.AreaFunc(anywhere)}
	WGS84 = wgs84.WGS84()
)

func anywhere(lon, lat float64) bool { return true }

// UTM projects onto the transverse Mercator grid of a zone chosen by the
// caller. No zone exceptions (Norway, Svalbard) are applied.
type UTM struct {
	datum wgs84.Datum
}

// NewUTM creates a UTM projector on the given datum
func NewUTM(datum wgs84.Datum) *UTM {
	return &UTM{datum: datum}
}

// CentralMeridian returns the central meridian of a zone in degrees
func CentralMeridian(zone int) float64 {
	return float64(zone)*ZoneWidth - 183
}

// crs returns the reference system of a zone. south selects the southern
// hemisphere false northing.
func (u *UTM) crs(zone int, south bool) wgs84.ProjectedReferenceSystem {
	northing := 0.0
	if south {
		northing = FalseNorthingSouth
	}
	return u.datum.TransverseMercator(CentralMeridian(zone), 0, ScaleFactor, FalseEasting, northing)
}

// Project returns the easting and northing in meters of lon/lat (degrees)
// on the given zone.
func (u *UTM) Project(longitude, latitude float64, zone int, south bool) (easting, northing float64) {
	easting, northing, _ = wgs84.To(u.crs(zone, south))(longitude, latitude, 0)
	return easting, northing
}
