package tables

import (
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

type regionYear struct {
	region string
	year   int
}

// Aggregates holds target population totals per (region, year).
type Aggregates struct {
	totals map[regionYear]float64
}

// ReadAggregates reads a CSV or XLSX table with Region, Year and
// Population columns. Repeated (region, year) pairs are an error.
func ReadAggregates(path string, opts ReadOptions) (*Aggregates, error) {
	rows, err := readRows(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, eris.Errorf("tables: aggregate table %s has no data rows", path)
	}
	cols, err := newHeader(rows[0]).require("region", "year", "population")
	if err != nil {
		return nil, eris.Wrapf(err, "tables: aggregate table %s", path)
	}

	a := &Aggregates{totals: make(map[regionYear]float64, len(rows)-1)}
	for n, row := range rows[1:] {
		region := field(row, cols[0])
		if region == "" && field(row, cols[1]) == "" {
			continue
		}
		year, err := parseYear(field(row, cols[1]))
		if err != nil {
			return nil, eris.Wrapf(err, "tables: aggregate table %s row %d", path, n+2)
		}
		pop, err := strconv.ParseFloat(field(row, cols[2]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "tables: aggregate table %s row %d population", path, n+2)
		}
		if err := a.Set(region, year, pop); err != nil {
			return nil, eris.Wrapf(err, "tables: aggregate table %s row %d", path, n+2)
		}
	}
	return a, nil
}

// NewAggregates returns an empty table.
func NewAggregates() *Aggregates {
	return &Aggregates{totals: make(map[regionYear]float64)}
}

// Set adds one total. Each (region, year) may be set once.
func (a *Aggregates) Set(region string, year int, total float64) error {
	k := regionYear{region, year}
	if _, dup := a.totals[k]; dup {
		return eris.Errorf("tables: duplicate aggregate for region %q year %d", region, year)
	}
	a.totals[k] = total
	return nil
}

// Lookup returns the target total for region in year.
func (a *Aggregates) Lookup(region string, year int) (float64, error) {
	v, ok := a.totals[regionYear{region, year}]
	if !ok {
		return 0, eris.Errorf("tables: no aggregate population for region %q year %d", region, year)
	}
	return v, nil
}

// Regions lists the regions in the table, sorted.
func (a *Aggregates) Regions() []string {
	seen := make(map[string]struct{})
	for k := range a.totals {
		seen[k.region] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Len is the number of totals.
func (a *Aggregates) Len() int { return len(a.totals) }

// parseYear accepts "2030" as well as the "2030.0" spreadsheets produce.
func parseYear(s string) (int, error) {
	if y, err := strconv.Atoi(s); err == nil {
		return y, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "tables: bad year %q", s)
	}
	if f != float64(int(f)) {
		return 0, eris.Errorf("tables: fractional year %q", s)
	}
	return int(f), nil
}
