package calibrate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// Record is one grid-search evaluation.
type Record struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta"  yaml:"beta"`
	Error float64 `json:"error" yaml:"error"`
}

// Params returns the record's parameter pair.
func (r Record) Params() Params {
	return Params{Alpha: r.Alpha, Beta: r.Beta}
}

// SearchGrid is the Cartesian product searched in the first phase.
type SearchGrid struct {
	Alpha []float64
	Beta  []float64
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// DefaultSearchGrid is 10 alphas in [-1, 1] by 5 betas in [0, 1].
func DefaultSearchGrid() SearchGrid {
	return SearchGrid{
		Alpha: Linspace(-1, 1, 10),
		Beta:  Linspace(0, 1, 5),
	}
}

// Size is the number of parameter pairs.
func (g SearchGrid) Size() int { return len(g.Alpha) * len(g.Beta) }

// GridSearch evaluates every pair of g in alpha-major, beta-minor order and
// returns all records in that order together with the best one. Ties keep
// the first pair found.
func GridSearch(ctx context.Context, ev Evaluator, g SearchGrid) ([]Record, Record, error) {
	if g.Size() == 0 {
		return nil, Record{}, eris.New("calibrate: empty search grid")
	}

	records := make([]Record, 0, g.Size())
	best := -1
	for _, a := range g.Alpha {
		for _, b := range g.Beta {
			if err := ctx.Err(); err != nil {
				return nil, Record{}, eris.Wrap(err, "calibrate: grid search cancelled")
			}
			v, err := ev.Evaluate(ctx, Params{Alpha: a, Beta: b})
			if err != nil {
				return nil, Record{}, err
			}
			records = append(records, Record{Alpha: a, Beta: b, Error: v})
			if best < 0 || v < records[best].Error {
				best = len(records) - 1
			}
		}
		zap.L().Info("calibrate: grid search row done",
			zap.Float64("alpha", a),
			zap.Int("evaluated", len(records)),
			zap.Int("total", g.Size()),
			zap.Float64("best_error", records[best].Error),
		)
	}
	return records, records[best], nil
}
