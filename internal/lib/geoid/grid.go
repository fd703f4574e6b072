package geoid

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// WW15MGH.DAC layout: 15 minute grid, rows run north to south from 90°,
// columns run east from 0° to 360° inclusive, values are centimetres.
const (
	dacRows = 721
	dacCols = 1441
	dacStep = 0.25
)

// Grid is a regular latitude/longitude grid of undulations interpolated
// bilinearly.
type Grid struct {
	rows, cols int
	north      float64 // latitude of row 0
	west       float64 // longitude of column 0
	step       float64 // grid spacing in degrees
	values     []float64
	wraps      bool
	minimum    float64
	maximum    float64
}

// NewGrid creates a grid from row-major values in meters. Row 0 lies at
// latitude north, column 0 at longitude west.
func NewGrid(rows, cols int, north, west, step float64, values []float64) (*Grid, error) {
	if rows < 2 || cols < 2 {
		return nil, errors.New("geoid grid needs at least 2 rows and 2 columns")
	}
	if step <= 0 {
		return nil, errors.New("geoid grid step must be positive")
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("geoid grid has %d values, want %d", len(values), rows*cols)
	}

	g := &Grid{
		rows:    rows,
		cols:    cols,
		north:   north,
		west:    west,
		step:    step,
		values:  values,
		wraps:   float64(cols-1)*step >= 360,
		minimum: math.Inf(1),
		maximum: math.Inf(-1),
	}
	for _, v := range values {
		g.minimum = math.Min(g.minimum, v)
		g.maximum = math.Max(g.maximum, v)
	}
	return g, nil
}

// LoadDAC reads an EGM96 WW15MGH.DAC grid
func LoadDAC(r io.Reader) (*Grid, error) {
	raw := make([]int16, dacRows*dacCols)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, fmt.Errorf("failed to read geoid grid: %w", err)
	}

	values := make([]float64, len(raw))
	for i, v := range raw {
		values[i] = float64(v) / 100
	}
	return NewGrid(dacRows, dacCols, 90, 0, dacStep, values)
}

// LoadDACFile reads an EGM96 WW15MGH.DAC grid from disk
func LoadDACFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoid grid: %w", err)
	}
	defer f.Close()
	return LoadDAC(f)
}

// Undulation interpolates the grid at the given position
func (g *Grid) Undulation(ctx context.Context, longitude, latitude float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	row := (g.north - latitude) / g.step
	if row < 0 || row > float64(g.rows-1) {
		return 0, ErrOutOfBounds
	}

	x := longitude - g.west
	if g.wraps {
		x = math.Mod(x, 360)
		if x < 0 {
			x += 360
		}
	}
	col := x / g.step
	if col < 0 || col > float64(g.cols-1) {
		return 0, ErrOutOfBounds
	}

	r0 := min(int(row), g.rows-2)
	c0 := min(int(col), g.cols-2)
	fr := row - float64(r0)
	fc := col - float64(c0)

	v00 := g.at(r0, c0)
	v01 := g.at(r0, c0+1)
	v10 := g.at(r0+1, c0)
	v11 := g.at(r0+1, c0+1)

	top := v00 + (v01-v00)*fc
	bottom := v10 + (v11-v10)*fc
	return top + (bottom-top)*fr, nil
}

// MinimumHeight returns the lowest value in the grid
func (g *Grid) MinimumHeight() float64 { return g.minimum }

// MaximumHeight returns the highest value in the grid
func (g *Grid) MaximumHeight() float64 { return g.maximum }

func (g *Grid) at(row, col int) float64 {
	return g.values[row*g.cols+col]
}
