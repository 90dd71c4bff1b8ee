package tables

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/popdownscale/internal/suitability"
)

// ParameterRow is one calibrated parameter pair for a year and scenario.
// Region is optional; an empty region applies to every region.
type ParameterRow struct {
	Alpha    float64 `json:"alpha"`
	Beta     float64 `json:"beta"`
	Scenario string  `json:"scenario"`
	Year     int     `json:"year"`
	Region   string  `json:"region,omitempty"`
}

// Params returns the row's parameter pair.
func (r ParameterRow) Params() suitability.Params {
	return suitability.Params{Alpha: r.Alpha, Beta: r.Beta}
}

// ParameterSet is a parameters table.
type ParameterSet struct {
	Rows []ParameterRow
}

// ExpandYears repeats p for every year from first to last (inclusive) in
// step increments.
func ExpandYears(p suitability.Params, scenario, region string, first, last, step int) ([]ParameterRow, error) {
	if step <= 0 || last < first {
		return nil, eris.Errorf("tables: bad year range %d..%d step %d", first, last, step)
	}
	var rows []ParameterRow
	for y := first; y <= last; y += step {
		rows = append(rows, ParameterRow{Alpha: p.Alpha, Beta: p.Beta, Scenario: scenario, Year: y, Region: region})
	}
	return rows, nil
}

// Lookup returns the parameters for (year, scenario). A row naming region
// wins over a region-less row.
func (s *ParameterSet) Lookup(year int, scenario, region string) (suitability.Params, error) {
	var (
		fallback ParameterRow
		found    bool
	)
	for _, r := range s.Rows {
		if r.Year != year || r.Scenario != scenario {
			continue
		}
		if region != "" && r.Region == region {
			return r.Params(), nil
		}
		if r.Region == "" && !found {
			fallback, found = r, true
		}
	}
	if !found {
		return suitability.Params{}, eris.Errorf("tables: no parameters for year %d scenario %q region %q", year, scenario, region)
	}
	return fallback.Params(), nil
}

// ReadParameters reads an alpha,beta,scenario,year[,region] CSV. Extra
// columns such as a leading unnamed index are ignored.
func ReadParameters(path string) (*ParameterSet, error) {
	rows, err := readRows(path, ReadOptions{})
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, eris.Errorf("tables: parameters %s has no data rows", path)
	}
	h := newHeader(rows[0])
	cols, err := h.require("alpha", "beta", "scenario", "year")
	if err != nil {
		return nil, eris.Wrapf(err, "tables: parameters %s", path)
	}
	regionCol := h.optional("region")

	set := &ParameterSet{Rows: make([]ParameterRow, 0, len(rows)-1)}
	for n, row := range rows[1:] {
		alpha, err := strconv.ParseFloat(field(row, cols[0]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "tables: parameters %s row %d alpha", path, n+2)
		}
		beta, err := strconv.ParseFloat(field(row, cols[1]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "tables: parameters %s row %d beta", path, n+2)
		}
		year, err := parseYear(field(row, cols[3]))
		if err != nil {
			return nil, eris.Wrapf(err, "tables: parameters %s row %d", path, n+2)
		}
		set.Rows = append(set.Rows, ParameterRow{
			Alpha:    alpha,
			Beta:     beta,
			Scenario: field(row, cols[2]),
			Year:     year,
			Region:   field(row, regionCol),
		})
	}
	return set, nil
}

// WriteParameters writes rows as CSV. The region column is only written
// when some row carries one.
func WriteParameters(path string, rows []ParameterRow) error {
	withRegion := false
	for _, r := range rows {
		if r.Region != "" {
			withRegion = true
			break
		}
	}

	head := []string{"alpha", "beta", "scenario", "year"}
	if withRegion {
		head = append(head, "region")
	}
	out := [][]string{head}
	for _, r := range rows {
		rec := []string{
			strconv.FormatFloat(r.Alpha, 'g', -1, 64),
			strconv.FormatFloat(r.Beta, 'g', -1, 64),
			r.Scenario,
			strconv.Itoa(r.Year),
		}
		if withRegion {
			rec = append(rec, r.Region)
		}
		out = append(out, rec)
	}
	return writeCSV(path, out)
}
