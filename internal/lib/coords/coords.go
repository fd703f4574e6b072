// Package coords turns geodetic positions into the strings shown in the
// location bar.
package coords

import (
	"math"
	"strconv"

	"github.com/dpup/locationbar/server/internal/lib/geo"
)

const (
	// DefaultDigits is the number of decimals shown for degrees
	DefaultDigits = 3
	// DefaultUnits suffixes projected coordinates
	DefaultUnits = "m"
	// MaxZone is the last UTM zone
	MaxZone = 60
)

// Projector projects lon/lat in degrees onto a UTM zone
type Projector interface {
	Project(longitude, latitude float64, zone int, south bool) (easting, northing float64)
}

// Display holds the formatted coordinate fields. An empty string means the
// field is absent.
type Display struct {
	Latitude   string   `json:"latitude,omitempty"`
	Longitude  string   `json:"longitude,omitempty"`
	Elevation  string   `json:"elevation,omitempty"`
	UTMZone    string   `json:"utm_zone,omitempty"`
	North      string   `json:"north,omitempty"`
	East       string   `json:"east,omitempty"`
	Refined    bool     `json:"refined,omitempty"`
	ErrorBound *float64 `json:"error_bound,omitempty"`
}

// IsEmpty reports whether no coordinate field is set
func (d Display) IsEmpty() bool {
	return d.Latitude == "" && d.Longitude == "" && d.Elevation == "" &&
		d.UTMZone == "" && d.North == "" && d.East == ""
}

// Formatter renders positions. The zero value formats degrees with
// DefaultDigits and leaves projected fields empty.
type Formatter struct {
	Digits     int
	Units      string
	Projection Projector
}

// NewFormatter creates a Formatter with default precision
func NewFormatter(projection Projector) *Formatter {
	return &Formatter{Digits: DefaultDigits, Units: DefaultUnits, Projection: projection}
}

// Format renders pos. errorBound is shown next to the elevation when
// present. Projected fields are filled only when useProjection is set and a
// projector is configured.
func (f *Formatter) Format(pos geo.Position, errorBound *float64, useProjection bool) Display {
	digits := f.Digits
	if digits <= 0 {
		digits = DefaultDigits
	}

	d := Display{
		Latitude:   formatDegrees(pos.Latitude, digits, "N", "S"),
		Longitude:  formatDegrees(pos.Longitude, digits, "E", "W"),
		ErrorBound: errorBound,
	}
	if pos.Height != nil {
		d.Elevation = FormatElevation(*pos.Height, errorBound)
	} else {
		d.ErrorBound = nil
	}

	if useProjection && f.Projection != nil {
		zone := Zone(pos.Longitude)
		hemisphere := Hemisphere(pos.Latitude)
		units := f.Units
		if units == "" {
			units = DefaultUnits
		}
		east, north := f.Projection.Project(pos.Longitude, pos.Latitude, zone, hemisphere == "S")
		d.UTMZone = strconv.Itoa(zone) + hemisphere
		d.North = strconv.FormatFloat(north, 'f', 2, 64) + units
		d.East = strconv.FormatFloat(east, 'f', 2, 64) + units
	}
	return d
}

// Zone returns the UTM zone of a longitude, clamped to 1..60 so that
// longitude 180 stays in the last zone.
func Zone(longitude float64) int {
	zone := int(math.Floor((longitude+180)/6)) + 1
	if zone < 1 {
		return 1
	}
	if zone > MaxZone {
		return MaxZone
	}
	return zone
}

// Hemisphere returns "S" for negative latitudes and "N" otherwise
func Hemisphere(latitude float64) string {
	if latitude < 0 {
		return "S"
	}
	return "N"
}

// FormatElevation renders a height in whole meters, followed by the
// rounded error bound when present.
func FormatElevation(height float64, errorBound *float64) string {
	s := strconv.FormatInt(Round(height), 10)
	if errorBound != nil {
		s += "±" + strconv.FormatInt(Round(*errorBound), 10)
	}
	return s + "m"
}

// Round rounds half toward positive infinity
func Round(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

func formatDegrees(deg float64, digits int, positive, negative string) string {
	suffix := positive
	if deg < 0 {
		suffix = negative
	}
	return strconv.FormatFloat(math.Abs(deg), 'f', digits, 64) + "°" + suffix
}
