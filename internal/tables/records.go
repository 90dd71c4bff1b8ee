package tables

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/popdownscale/internal/calibrate"
)

// RecordsFile is the conventional name of the grid-search records table.
const RecordsFile = "initial_values.csv"

// WriteRecords writes grid-search records as an a,b,estimate CSV in the
// order given.
func WriteRecords(path string, records []calibrate.Record) error {
	out := make([][]string, 0, len(records)+1)
	out = append(out, []string{"a", "b", "estimate"})
	for _, r := range records {
		out = append(out, []string{
			strconv.FormatFloat(r.Alpha, 'g', -1, 64),
			strconv.FormatFloat(r.Beta, 'g', -1, 64),
			strconv.FormatFloat(r.Error, 'g', -1, 64),
		})
	}
	return writeCSV(path, out)
}

// ReadRecords reads a table written by WriteRecords.
func ReadRecords(path string) ([]calibrate.Record, error) {
	rows, err := readRows(path, ReadOptions{})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("tables: records %s is empty", path)
	}
	cols, err := newHeader(rows[0]).require("a", "b", "estimate")
	if err != nil {
		return nil, eris.Wrapf(err, "tables: records %s", path)
	}

	records := make([]calibrate.Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		var v [3]float64
		for k, c := range cols {
			f, err := strconv.ParseFloat(field(row, c), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "tables: records %s row %d", path, n+2)
			}
			v[k] = f
		}
		records = append(records, calibrate.Record{Alpha: v[0], Beta: v[1], Error: v[2]})
	}
	return records, nil
}
