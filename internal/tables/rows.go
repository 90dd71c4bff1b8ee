// Package tables reads and writes the tabular exchange files around a
// calibration or projection run: aggregate population targets, calibrated
// parameters, grid-search records, the XLSX report and the YAML manifest.
package tables

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/htmlindex"
)

// ReadOptions selects how a tabular file is decoded.
type ReadOptions struct {
	// Charset names the text encoding of CSV input (e.g. "windows-1252").
	// Empty means UTF-8.
	Charset string
	// Sheet picks an XLSX sheet by name; the first sheet is used otherwise.
	Sheet string
}

// readRows returns every row of a CSV or XLSX file, header included. The
// format follows the file extension.
func readRows(path string, opts ReadOptions) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSXRows(path, opts.Sheet)
	default:
		return readCSVRows(path, opts.Charset)
	}
}

func readCSVRows(path, charset string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var r io.Reader = f
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "tables: unsupported charset %q", charset)
		}
		r = enc.NewDecoder().Reader(f)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "tables: read csv %s", path)
	}
	return rows, nil
}

func readXLSXRows(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: open xlsx %s", path)
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("tables: sheet %q not found in %s", sheetName, path)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("tables: %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// header maps lower-cased column names to their positions.
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

// require returns the positions of the named columns.
func (h header) require(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		i, ok := h[name]
		if !ok {
			return nil, eris.Errorf("tables: missing required column %q", name)
		}
		idx[k] = i
	}
	return idx, nil
}

// optional returns the position of a column or -1.
func (h header) optional(name string) int {
	if i, ok := h[name]; ok {
		return i
	}
	return -1
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeCSV(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "tables: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tables: create %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "tables: write %s", path)
	}
	return eris.Wrapf(f.Close(), "tables: close %s", path)
}
