package tables

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/suitability"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadAggregates_CSV(t *testing.T) {
	path := writeFile(t, "agg.csv", []byte("Year,Region,Population\n2020,bronx,1400000\n2030,bronx,1450000.5\n2030.0,queens,2300000\n"))

	a, err := ReadAggregates(path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())

	v, err := a.Lookup("bronx", 2030)
	require.NoError(t, err)
	assert.Equal(t, 1450000.5, v)

	v, err = a.Lookup("queens", 2030)
	require.NoError(t, err)
	assert.Equal(t, 2300000.0, v)

	_, err = a.Lookup("queens", 2040)
	assert.Error(t, err)
	assert.Equal(t, []string{"bronx", "queens"}, a.Regions())
}

func TestReadAggregates_XLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"SSP2": {
			{"Region", "Year", "Population"},
			{"north", "2040", "120.5"},
		},
	})

	a, err := ReadAggregates(path, ReadOptions{Sheet: "SSP2"})
	require.NoError(t, err)
	v, err := a.Lookup("north", 2040)
	require.NoError(t, err)
	assert.Equal(t, 120.5, v)

	_, err = ReadAggregates(path, ReadOptions{Sheet: "SSP5"})
	assert.Error(t, err)
}

func TestReadAggregates_Charset(t *testing.T) {
	// "Île" in windows-1252.
	data := append([]byte("Region,Year,Population\n"), 0xCE, 'l', 'e', ',', '2', '0', '3', '0', ',', '5', '\n')
	path := writeFile(t, "agg.csv", data)

	a, err := ReadAggregates(path, ReadOptions{Charset: "windows-1252"})
	require.NoError(t, err)
	v, err := a.Lookup("Île", 2030)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	_, err = ReadAggregates(path, ReadOptions{Charset: "klingon"})
	assert.Error(t, err)
}

func TestReadAggregates_Errors(t *testing.T) {
	cases := map[string]string{
		"missing column": "Region,Year\nnorth,2030\n",
		"duplicate":      "Region,Year,Population\nnorth,2030,1\nnorth,2030,2\n",
		"bad number":     "Region,Year,Population\nnorth,2030,lots\n",
		"fractional":     "Region,Year,Population\nnorth,2030.5,1\n",
		"no rows":        "Region,Year,Population\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadAggregates(writeFile(t, "agg.csv", []byte(body)), ReadOptions{})
			assert.Error(t, err)
		})
	}
}

func TestParameters_RoundTrip(t *testing.T) {
	rows, err := ExpandYears(suitability.Params{Alpha: 0.42, Beta: 1.1}, "SSP2", "", 2020, 2100, 10)
	require.NoError(t, err)
	require.Len(t, rows, 9)
	assert.Equal(t, 2100, rows[8].Year)

	path := filepath.Join(t.TempDir(), "out", "parameters_SSP2.csv")
	require.NoError(t, WriteParameters(path, rows))

	set, err := ReadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, rows, set.Rows)

	p, err := set.Lookup(2050, "SSP2", "bronx")
	require.NoError(t, err)
	assert.Equal(t, suitability.Params{Alpha: 0.42, Beta: 1.1}, p)

	_, err = set.Lookup(2050, "SSP5", "")
	assert.Error(t, err)
}

func TestParameters_RegionSpecificWins(t *testing.T) {
	path := writeFile(t, "params.csv", []byte(",alpha,beta,scenario,year,region\n0,0.1,0.2,SSP2,2020,\n1,0.5,0.6,SSP2,2020,bronx\n"))
	set, err := ReadParameters(path)
	require.NoError(t, err)

	p, err := set.Lookup(2020, "SSP2", "bronx")
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Alpha)

	p, err = set.Lookup(2020, "SSP2", "queens")
	require.NoError(t, err)
	assert.Equal(t, 0.1, p.Alpha)
}

func TestExpandYears_BadRange(t *testing.T) {
	_, err := ExpandYears(suitability.Params{}, "SSP2", "", 2030, 2020, 10)
	assert.Error(t, err)
	_, err = ExpandYears(suitability.Params{}, "SSP2", "", 2020, 2030, 0)
	assert.Error(t, err)
}

func TestRecords_RoundTrip(t *testing.T) {
	records := []calibrate.Record{
		{Alpha: -1, Beta: 0, Error: 12.5},
		{Alpha: -1, Beta: 0.25, Error: 3},
	}
	path := filepath.Join(t.TempDir(), RecordsFile)
	require.NoError(t, WriteRecords(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b,estimate\n-1,0,12.5\n-1,0.25,3\n", string(data))

	got, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestManifest_RoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &Manifest{
		RunID:    "run-1",
		Region:   "bronx",
		Year:     2010,
		Scenario: "SSP2",
		Inputs:   Inputs{Year1: "pop_2000.asc", Year2: "pop_2010.asc", Mask: "mask.asc", Boundary: "within.csv", Cutoff: 25000},
		Seed:     calibrate.Record{Alpha: 0.1, Beta: 0.5, Error: 7},
		Params:   &suitability.Params{Alpha: 0.12, Beta: 0.48},
		Error:    6.5,
		Status:   "complete",

		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
	}
	path := filepath.Join(t.TempDir(), ManifestFile)
	require.NoError(t, WriteManifest(path, m))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id: run-1")
	assert.Contains(t, string(data), "cutoff: 25000")
}

func TestWriteReport(t *testing.T) {
	records := []calibrate.Record{{Alpha: -1, Beta: 0, Error: 4}, {Alpha: 1, Beta: 1, Error: 2}}
	m := &Manifest{RunID: "r", Region: "north", Year: 2010, Status: "failed", Message: "did not converge", Seed: records[1]}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteReport(path, m, records))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Contains(t, f.Sheet, RecordsSheet)
	require.Contains(t, f.Sheet, SummarySheet)

	rs := f.Sheet[RecordsSheet]
	require.Len(t, rs.Rows, 3)
	assert.Equal(t, "alpha", rs.Rows[0].Cells[0].String())

	var keys []string
	for _, row := range f.Sheet[SummarySheet].Rows {
		keys = append(keys, row.Cells[0].String())
	}
	assert.Contains(t, keys, "seed_alpha")
	assert.Contains(t, keys, "message")
	assert.NotContains(t, keys, "alpha")
}
