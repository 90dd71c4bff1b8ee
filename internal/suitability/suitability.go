// Package suitability scores how attractive a cell is for population change
// from the population of its neighbours and their distance.
package suitability

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/popdownscale/internal/grid"
	"github.com/sells-group/popdownscale/internal/template"
)

// Params are the two free model parameters. Alpha shapes the response to
// neighbour population; Beta is the exponential distance decay per km.
type Params struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
}

// Score is one cell's suitability. Valid is false when no neighbour
// produced a usable value.
type Score struct {
	Value float64
	Valid bool
}

// Decay returns exp(-beta * d/1000) for every template entry, distances
// being in metres.
func Decay(t *template.Template, beta float64) []float64 {
	out := make([]float64, t.Len())
	for k, e := range t.Entries {
		out[k] = math.Exp(-beta * e.Distance / 1000.0)
	}
	return out
}

// Power applies the zero-preserving power rule: positive populations are
// raised to alpha, anything else passes through unchanged.
func Power(p, alpha float64) float64 {
	if p > 0 {
		return math.Pow(p, alpha)
	}
	return p
}

// Estimate computes the mean over neighbours of Power(pop, alpha) * decay.
// Out-of-grid neighbours and missing cells are skipped, as are non-finite
// products. decay must be aligned with t.Entries.
func Estimate(focal int, t *template.Template, pop *grid.Grid, alpha float64, decay []float64) Score {
	var sum float64
	var n int
	for k := range t.Entries {
		i, ok := t.Neighbor(focal, k)
		if !ok {
			continue
		}
		c := pop.Cell(i)
		if c.Missing {
			continue
		}
		v := Power(c.Value, alpha) * decay[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return Score{}
	}
	return Score{Value: sum / float64(n), Valid: true}
}

// EstimateChecked validates the focal index and decay alignment before
// calling Estimate.
func EstimateChecked(focal int, t *template.Template, pop *grid.Grid, alpha float64, decay []float64) (Score, error) {
	if err := pop.CheckIndex(focal); err != nil {
		return Score{}, eris.Wrap(err, "suitability: focal")
	}
	if pop.Dims != t.Dims {
		return Score{}, eris.Errorf("suitability: template built for %dx%d grid, population is %dx%d",
			t.Dims.Rows, t.Dims.Cols, pop.Rows, pop.Cols)
	}
	if len(decay) != t.Len() {
		return Score{}, eris.Errorf("suitability: %d decay factors for %d template entries", len(decay), t.Len())
	}
	return Estimate(focal, t, pop, alpha, decay), nil
}
