// Package store persists calibration and projection runs, their
// grid-search records and the calibrated parameter table.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/model"
	"github.com/sells-group/popdownscale/internal/tables"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind     model.RunKind   `json:"kind,omitempty"`
	Status   model.RunStatus `json:"status,omitempty"`
	Region   string          `json:"region,omitempty"`
	Scenario string          `json:"scenario,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, message string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Grid-search records, kept in evaluation order.
	SaveRecords(ctx context.Context, runID string, records []calibrate.Record) error
	ListRecords(ctx context.Context, runID string) ([]calibrate.Record, error)

	// Calibrated parameters, one row per (region, scenario, year); later
	// calibrations replace earlier ones.
	UpsertParameters(ctx context.Context, runID string, rows []tables.ParameterRow) (int64, error)
	ListParameters(ctx context.Context, scenario string) ([]tables.ParameterRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func notFound(runID string) error {
	return eris.Wrapf(ErrNotFound, "run %s", runID)
}
