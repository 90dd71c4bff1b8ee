// Package boundary identifies the study-area cells of a grid and restricts
// grid values to them.
package boundary

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/popdownscale/internal/grid"
)

// Set is an ordered collection of unique linear indices inside the study
// area. Its order defines the order of every per-cell result.
type Set []int

// New validates indices against d and drops repeats, keeping first
// occurrences in order.
func New(indices []int, d grid.Dims) (Set, error) {
	seen := make(map[int]struct{}, len(indices))
	s := make(Set, 0, len(indices))
	for _, i := range indices {
		if err := d.CheckIndex(i); err != nil {
			return nil, eris.Wrap(err, "boundary")
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		s = append(s, i)
	}
	if len(s) == 0 {
		return nil, eris.New("boundary: empty index set")
	}
	return s, nil
}

// All returns every cell of d in linear order.
func All(d grid.Dims) Set {
	s := make(Set, d.Len())
	for i := range s {
		s[i] = i
	}
	return s
}

// Validate checks every index against d.
func (s Set) Validate(d grid.Dims) error {
	if len(s) == 0 {
		return eris.New("boundary: empty index set")
	}
	for _, i := range s {
		if err := d.CheckIndex(i); err != nil {
			return eris.Wrap(err, "boundary")
		}
	}
	return nil
}

// ReadCSV reads boundary indices from the "index" column of a CSV file.
func ReadCSV(path string, d grid.Dims) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "boundary: read csv")
	}
	if len(records) < 2 {
		return nil, eris.New("boundary: csv has no data rows")
	}

	col := -1
	for i, h := range records[0] {
		if strings.EqualFold(strings.TrimSpace(h), "index") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, eris.New(`boundary: missing required column "index"`)
	}

	indices := make([]int, 0, len(records)-1)
	for n, row := range records[1:] {
		if col >= len(row) {
			return nil, eris.Errorf("boundary: row %d has no index column", n+2)
		}
		v, err := grid.ParseIndex(row[col])
		if err != nil {
			return nil, eris.Wrapf(err, "boundary: row %d", n+2)
		}
		indices = append(indices, v)
	}
	return New(indices, d)
}

// Restrict extracts the values of g at the boundary cells. Missing and
// negative values become 0.
func (s Set) Restrict(g *grid.Grid) []float64 {
	out := make([]float64, len(s))
	for k, i := range s {
		c := g.Cell(i)
		if c.Missing || c.Value < 0 {
			continue
		}
		out[k] = c.Value
	}
	return out
}

// Sum is the total of Restrict(g).
func (s Set) Sum(g *grid.Grid) float64 {
	var total float64
	for _, v := range s.Restrict(g) {
		total += v
	}
	return total
}

// Scatter writes values (in boundary order) into a copy of base. Cells
// outside the boundary keep their base values.
func (s Set) Scatter(base *grid.Grid, values []float64) (*grid.Grid, error) {
	if len(values) != len(s) {
		return nil, eris.Errorf("boundary: %d values for %d boundary cells", len(values), len(s))
	}
	out := base.Clone()
	for k, i := range s {
		if !out.Contains(i) {
			return nil, eris.Wrapf(grid.ErrInvalidIndex, "boundary: scatter index %d", i)
		}
		out.Values[i] = values[k]
	}
	return out, nil
}

// FuseMask restricts a suitability mask to the boundary. Missing and
// negative weights carry no signal and become 0.
func (s Set) FuseMask(mask *grid.Grid) []float64 {
	return s.Restrict(mask)
}
