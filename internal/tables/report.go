package tables

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/suitability"
)

// Sheet names of the calibration report.
const (
	RecordsSheet = "records"
	SummarySheet = "summary"
)

// ManifestFile is the conventional name of the run manifest.
const ManifestFile = "calibration.yaml"

// Inputs names the files and template settings a run used.
type Inputs struct {
	Year1       string  `yaml:"year1"`
	Year2       string  `yaml:"year2"`
	Mask        string  `yaml:"mask"`
	Boundary    string  `yaml:"boundary"`
	Coordinates string  `yaml:"coordinates,omitempty"`
	Reference   int     `yaml:"reference"`
	Cutoff      float64 `yaml:"cutoff"`
}

// Manifest describes one calibration run.
type Manifest struct {
	RunID      string              `yaml:"run_id"`
	Region     string              `yaml:"region"`
	Year       int                 `yaml:"year"`
	Scenario   string              `yaml:"scenario"`
	Inputs     Inputs              `yaml:"inputs"`
	Seed       calibrate.Record    `yaml:"seed"`
	Params     *suitability.Params `yaml:"params,omitempty"`
	Error      float64             `yaml:"error,omitempty"`
	Status     string              `yaml:"status"`
	Message    string              `yaml:"message,omitempty"`
	StartedAt  time.Time           `yaml:"started_at"`
	FinishedAt time.Time           `yaml:"finished_at"`
}

// WriteManifest writes m as YAML.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "tables: marshal manifest")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "tables: create directory for %s", path)
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "tables: write manifest %s", path)
}

// ReadManifest reads a YAML manifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "tables: parse manifest %s", path)
	}
	return &m, nil
}

// WriteReport writes an XLSX workbook with every grid-search record on
// one sheet and the run summary on another.
func WriteReport(path string, m *Manifest, records []calibrate.Record) error {
	f := xlsx.NewFile()

	rs, err := f.AddSheet(RecordsSheet)
	if err != nil {
		return eris.Wrap(err, "tables: add records sheet")
	}
	addStringRow(rs, "alpha", "beta", "error")
	for _, r := range records {
		row := rs.AddRow()
		row.AddCell().SetFloat(r.Alpha)
		row.AddCell().SetFloat(r.Beta)
		row.AddCell().SetFloat(r.Error)
	}

	ss, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "tables: add summary sheet")
	}
	addStringRow(ss, "run_id", m.RunID)
	addStringRow(ss, "region", m.Region)
	addStringRow(ss, "scenario", m.Scenario)
	addFloatRow(ss, "year", float64(m.Year))
	addFloatRow(ss, "pairs", float64(len(records)))
	addFloatRow(ss, "seed_alpha", m.Seed.Alpha)
	addFloatRow(ss, "seed_beta", m.Seed.Beta)
	addFloatRow(ss, "seed_error", m.Seed.Error)
	if m.Params != nil {
		addFloatRow(ss, "alpha", m.Params.Alpha)
		addFloatRow(ss, "beta", m.Params.Beta)
		addFloatRow(ss, "error", m.Error)
	}
	addStringRow(ss, "status", m.Status)
	if m.Message != "" {
		addStringRow(ss, "message", m.Message)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "tables: create directory for %s", path)
	}
	return eris.Wrapf(f.Save(path), "tables: save report %s", path)
}

func addStringRow(s *xlsx.Sheet, values ...string) {
	row := s.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addFloatRow(s *xlsx.Sheet, name string, v float64) {
	row := s.AddRow()
	row.AddCell().SetString(name)
	row.AddCell().SetFloat(v)
}
