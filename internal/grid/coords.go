package grid

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadPointsCSV reads a coordinate table with an id, x, y column triple
// (the first three columns, header row skipped). Ids are linear cell indices
// and must cover [0, n) exactly once.
func ReadPointsCSV(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: open coordinates %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "grid: read coordinates")
	}
	if len(records) < 2 {
		return nil, eris.New("grid: coordinates csv has no data rows")
	}

	rows := records[1:]
	pts := make([]Point, len(rows))
	seen := make([]bool, len(rows))
	for n, row := range rows {
		if len(row) < 3 {
			return nil, eris.Errorf("grid: coordinates row %d has %d columns, want 3", n+2, len(row))
		}
		i, err := ParseIndex(row[0])
		if err != nil {
			return nil, eris.Wrapf(err, "grid: coordinates row %d id", n+2)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: coordinates row %d x", n+2)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: coordinates row %d y", n+2)
		}
		if i < 0 || i >= len(pts) || seen[i] {
			return nil, eris.Errorf("grid: coordinates row %d has bad or duplicate id %d", n+2, i)
		}
		pts[i] = Point{X: x, Y: y}
		seen[i] = true
	}
	return pts, nil
}

// ParseIndex parses a cell index. Integral floats such as "12.0" are
// accepted; fractional values are not.
func ParseIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "grid: index %q", s)
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, eris.Errorf("grid: index %q is not an integer", s)
	}
	return int(v), nil
}
