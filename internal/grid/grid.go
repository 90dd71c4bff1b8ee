// Package grid holds the flattened raster view used by the downscaling engine.
// A Grid stores row-major cell values with a stable linear index so every
// per-cell operation can address cells by a single integer.
package grid

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidIndex is returned when a reference or focal index falls outside
// the grid.
var ErrInvalidIndex = eris.New("grid: invalid index")

// Dims describes the shape of a raster.
type Dims struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`
}

// Len returns the number of cells.
func (d Dims) Len() int {
	return d.Rows * d.Cols
}

// Index maps (row, col) to the row-major linear index.
func (d Dims) Index(row, col int) int {
	return row*d.Cols + col
}

// RowCol maps a linear index back to (row, col).
func (d Dims) RowCol(i int) (int, int) {
	return i / d.Cols, i % d.Cols
}

// InBounds reports whether (row, col) lies inside the raster.
func (d Dims) InBounds(row, col int) bool {
	return row >= 0 && row < d.Rows && col >= 0 && col < d.Cols
}

// Contains reports whether i is a valid linear index.
func (d Dims) Contains(i int) bool {
	return i >= 0 && i < d.Len()
}

// CheckIndex returns ErrInvalidIndex wrapped with the offending index when i
// is outside the grid.
func (d Dims) CheckIndex(i int) error {
	if !d.Contains(i) {
		return eris.Wrapf(ErrInvalidIndex, "index %d outside [0, %d)", i, d.Len())
	}
	return nil
}

// Geotransform places the raster in projected space. OriginX/OriginY is the
// upper-left corner of the upper-left cell.
type Geotransform struct {
	OriginX  float64 `json:"origin_x" yaml:"origin_x"`
	OriginY  float64 `json:"origin_y" yaml:"origin_y"`
	CellSize float64 `json:"cell_size" yaml:"cell_size"`
}

// Point is a projected coordinate in metres.
type Point struct {
	X float64
	Y float64
}

// Cell is one grid value tagged with whether it is missing.
type Cell struct {
	Value   float64
	Missing bool
}

// Grid is a raster flattened to a row-major slice.
type Grid struct {
	Dims
	Values    []float64
	Geo       Geotransform
	NoData    float64
	HasNoData bool
}

// New builds a grid and checks that values matches the dimensions.
func New(rows, cols int, values []float64) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, eris.Errorf("grid: invalid dimensions %dx%d", rows, cols)
	}
	if len(values) != rows*cols {
		return nil, eris.Errorf("grid: %d values for %dx%d grid", len(values), rows, cols)
	}
	return &Grid{
		Dims:   Dims{Rows: rows, Cols: cols},
		Values: values,
		Geo:    Geotransform{CellSize: 1},
	}, nil
}

// Cell returns the tagged value at linear index i. NaN, infinities and the
// NODATA sentinel are reported as missing.
func (g *Grid) Cell(i int) Cell {
	v := g.Values[i]
	if math.IsNaN(v) || math.IsInf(v, 0) || (g.HasNoData && v == g.NoData) {
		return Cell{Missing: true}
	}
	return Cell{Value: v}
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Values = append([]float64(nil), g.Values...)
	return &c
}

// SameShape reports whether o has identical dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Dims == o.Dims
}

// Center returns the projected centre of cell (row, col).
func (g *Grid) Center(row, col int) Point {
	return Point{
		X: g.Geo.OriginX + (float64(col)+0.5)*g.Geo.CellSize,
		Y: g.Geo.OriginY - (float64(row)+0.5)*g.Geo.CellSize,
	}
}

// Centers returns the centre coordinate of every cell in linear index order.
// It stands in for an explicit coordinate table when none is supplied.
func (g *Grid) Centers() []Point {
	pts := make([]Point, g.Len())
	for i := range pts {
		r, c := g.RowCol(i)
		pts[i] = g.Center(r, c)
	}
	return pts
}
