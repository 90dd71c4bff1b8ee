// Package model holds the persisted shapes of calibration and projection
// runs.
package model

import "time"

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusComplete, RunStatusFailed:
		return true
	}
	return false
}

// RunKind distinguishes calibrations from projections.
type RunKind string

const (
	RunKindCalibration RunKind = "calibration"
	RunKindProjection  RunKind = "projection"
)

// RunInputs records where a run's data came from.
type RunInputs struct {
	Year1       string  `json:"year1,omitempty"`
	Year2       string  `json:"year2,omitempty"`
	Mask        string  `json:"mask"`
	Boundary    string  `json:"boundary"`
	Coordinates string  `json:"coordinates,omitempty"`
	Aggregates  string  `json:"aggregates,omitempty"`
	Parameters  string  `json:"parameters,omitempty"`
	Reference   int     `json:"reference"`
	Cutoff      float64 `json:"cutoff"`
}

// Run is one calibration or projection.
type Run struct {
	ID        string     `json:"id"`
	Kind      RunKind    `json:"kind"`
	Region    string     `json:"region"`
	Scenario  string     `json:"scenario"`
	Year      int        `json:"year"`
	Inputs    RunInputs  `json:"inputs"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a calibration.
type RunResult struct {
	Alpha     float64 `json:"alpha"`
	Beta      float64 `json:"beta"`
	Error     float64 `json:"error"`
	SeedAlpha float64 `json:"seed_alpha"`
	SeedBeta  float64 `json:"seed_beta"`
	SeedError float64 `json:"seed_error"`
	Pairs     int     `json:"pairs"`
	// Steps is the number of projected intervals.
	Steps int `json:"steps,omitempty"`
}
