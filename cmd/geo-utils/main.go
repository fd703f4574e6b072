package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang/geo/r3"

	"github.com/dpup/locationbar/server/internal/lib/coords"
	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/lib/geoid"
	"github.com/dpup/locationbar/server/internal/lib/projection"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "utm":
		handleUTM()
	case "geoid":
		handleGeoid()
	case "ecef":
		handleECEF()
	case "geometric-error":
		handleGeometricError()
	case "decode-outline":
		handleDecodeOutline()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleUTM() {
	fs := flag.NewFlagSet("utm", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude in degrees")
	lon := fs.Float64("lon", 0, "Longitude in degrees")

	fs.Parse(os.Args[2:])

	if *lat == 0 && *lon == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  geo-utils utm --lat -33.8688 --lon 151.2093")
		fmt.Println("  (Sydney, zone 56S)")
		os.Exit(1)
	}

	pos := geo.NewPosition(*lon, *lat)
	if err := pos.Validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	d := coords.NewFormatter(projection.NewUTM(projection.GRS80)).Format(pos, nil, true)

	fmt.Printf("UTM coordinates:\n")
	fmt.Printf("  Position: %s %s\n", d.Latitude, d.Longitude)
	fmt.Printf("  Zone: %s (central meridian %.0f°)\n", d.UTMZone, projection.CentralMeridian(coords.Zone(*lon)))
	fmt.Printf("  Easting: %s\n", d.East)
	fmt.Printf("  Northing: %s\n", d.North)
}

func handleGeoid() {
	fs := flag.NewFlagSet("geoid", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude in degrees")
	lon := fs.Float64("lon", 0, "Longitude in degrees")
	dac := fs.String("dac", "", "Path to WW15MGH.DAC (defaults to the embedded EGM96 model)")

	fs.Parse(os.Args[2:])

	var model geoid.Model = geoid.NewEGM96()
	source := "EGM96 spherical harmonics"
	if *dac != "" {
		grid, err := geoid.LoadDACFile(*dac)
		if err != nil {
			log.Fatalf("Error loading geoid grid: %v", err)
		}
		model = grid
		source = *dac
	}

	undulation, err := model.Undulation(context.Background(), *lon, *lat)
	if err != nil {
		log.Fatalf("Error computing undulation: %v", err)
	}

	fmt.Printf("Geoid undulation:\n")
	fmt.Printf("  Source: %s\n", source)
	fmt.Printf("  Point: (%.6f, %.6f)\n", *lat, *lon)
	fmt.Printf("  Undulation: %.3f meters\n", undulation)
	fmt.Printf("  Model range: %.2f to %.2f meters\n", model.MinimumHeight(), model.MaximumHeight())
}

func handleECEF() {
	fs := flag.NewFlagSet("ecef", flag.ExitOnError)
	x := fs.Float64("x", 0, "Earth-centered X in meters")
	y := fs.Float64("y", 0, "Earth-centered Y in meters")
	z := fs.Float64("z", 0, "Earth-centered Z in meters")

	fs.Parse(os.Args[2:])

	if *x == 0 && *y == 0 && *z == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  geo-utils ecef --x -4646517 --y 2553152 --z -3534584")
		os.Exit(1)
	}

	pos := geo.FromECEF(r3.Vector{X: *x, Y: *y, Z: *z})

	fmt.Printf("Geodetic position:\n")
	fmt.Printf("  Latitude: %.8f\n", pos.Latitude)
	fmt.Printf("  Longitude: %.8f\n", pos.Longitude)
	fmt.Printf("  Height: %.3f meters above the ellipsoid\n", *pos.Height)
}

func handleGeometricError() {
	fs := flag.NewFlagSet("geometric-error", flag.ExitOnError)
	maxLevel := fs.Int("max-level", 20, "Deepest tile level to list")

	fs.Parse(os.Args[2:])

	fmt.Printf("Estimated heightmap geometric error:\n")
	for level := 0; level <= *maxLevel; level++ {
		fmt.Printf("  Level %2d: %12.4f meters\n", level, geo.EstimatedGeometricError(level))
	}
}

func handleDecodeOutline() {
	fs := flag.NewFlagSet("decode-outline", flag.ExitOnError)
	encoded := fs.String("polyline", "", "Encoded triangle outline")

	fs.Parse(os.Args[2:])

	if *encoded == "" {
		fmt.Println("Example usage:")
		fmt.Println("  geo-utils decode-outline --polyline \"outline_from_estimate_response\"")
		os.Exit(1)
	}

	points, err := geo.DecodeOutline(*encoded)
	if err != nil {
		log.Fatalf("Error decoding outline: %v", err)
	}

	fmt.Printf("Outline decoded successfully:\n")
	fmt.Printf("  Points: %d\n", len(points))
	for i, p := range points {
		fmt.Printf("    %d: (%.6f, %.6f)\n", i+1, p.Latitude, p.Longitude)
	}
}

func printUsage() {
	fmt.Printf(`geo-utils - Geodesy utility tool

USAGE:
    geo-utils <command> [options]

COMMANDS:
    utm               Project a point onto its UTM zone
    geoid             Look up the geoid undulation at a point
    ecef              Convert earth-centered coordinates to lon/lat/height
    geometric-error   List estimated terrain error per tile level
    decode-outline    Decode a picked triangle outline
    help              Show this help message

EXAMPLES:
    # Sydney in UTM
    geo-utils utm --lat -33.8688 --lon 151.2093

    # Undulation from a WW15MGH.DAC grid
    geo-utils geoid --lat 27.9881 --lon 86.9250 --dac WW15MGH.DAC
`)
}
