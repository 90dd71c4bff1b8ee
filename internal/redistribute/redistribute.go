// Package redistribute spreads an aggregate population change over the
// boundary cells of a grid in proportion to masked suitability while
// keeping the boundary total exact and every cell non-negative.
package redistribute

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/popdownscale/internal/boundary"
	"github.com/sells-group/popdownscale/internal/grid"
	"github.com/sells-group/popdownscale/internal/suitability"
	"github.com/sells-group/popdownscale/internal/template"
	"github.com/sells-group/popdownscale/internal/workpool"
)

// DefaultMaxCorrectionIterations bounds the negative-population correction.
const DefaultMaxCorrectionIterations = 1000

// Input holds everything one redistribution needs. None of it is modified.
type Input struct {
	Population *grid.Grid
	Mask       *grid.Grid
	Boundary   boundary.Set
	Template   *template.Template
	Params     suitability.Params
	Change     float64
}

// Result is the redistributed population in boundary order.
type Result struct {
	Values               []float64
	Suitability          []float64
	Negative             bool
	CorrectionIterations int
	Total                float64
}

// Redistributor runs redistributions on an owned worker pool.
type Redistributor struct {
	pool          *workpool.Pool
	maxCorrection int
}

// Option configures a Redistributor.
type Option func(*Redistributor)

// WithMaxCorrectionIterations bounds the negative-population correction loop.
func WithMaxCorrectionIterations(n int) Option {
	return func(r *Redistributor) {
		if n > 0 {
			r.maxCorrection = n
		}
	}
}

// New creates a Redistributor. A nil pool gets a default-sized one.
func New(pool *workpool.Pool, opts ...Option) *Redistributor {
	if pool == nil {
		pool = workpool.New(0)
	}
	r := &Redistributor{pool: pool, maxCorrection: DefaultMaxCorrectionIterations}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (in Input) validate() error {
	if in.Population == nil || in.Mask == nil {
		return eris.New("redistribute: population and mask grids are required")
	}
	if !in.Population.SameShape(in.Mask) {
		return eris.Errorf("redistribute: population %dx%d and mask %dx%d differ",
			in.Population.Rows, in.Population.Cols, in.Mask.Rows, in.Mask.Cols)
	}
	if in.Template == nil {
		return eris.New("redistribute: template is required")
	}
	if in.Template.Dims != in.Population.Dims {
		return eris.New("redistribute: template was built for a different grid")
	}
	if math.IsNaN(in.Change) || math.IsInf(in.Change, 0) {
		return eris.Errorf("redistribute: non-finite population change %v", in.Change)
	}
	return in.Boundary.Validate(in.Population.Dims)
}

// Scores maps the suitability estimator over the boundary on the pool.
// Cells without signal score 0.
func (r *Redistributor) Scores(ctx context.Context, in Input) ([]float64, error) {
	decay := suitability.Decay(in.Template, in.Params.Beta)
	return workpool.MapFloat64(ctx, r.pool, len(in.Boundary), func(k int) float64 {
		s := suitability.Estimate(in.Boundary[k], in.Template, in.Population, in.Params.Alpha, decay)
		if !s.Valid {
			return 0
		}
		return s.Value
	})
}

// Redistribute distributes in.Change over the boundary. The returned values
// sum to the current boundary total plus in.Change.
func (r *Redistributor) Redistribute(ctx context.Context, in Input) (*Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	scores, err := r.Scores(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "redistribute: suitability")
	}

	current := in.Boundary.Restrict(in.Population)
	mask := in.Boundary.FuseMask(in.Mask)
	negative := in.Change < 0

	suit := weigh(scores, mask, current, negative)

	res := &Result{Suitability: suit, Negative: negative}
	if in.Change == 0 {
		res.Values = current
		res.Total = floats.Sum(current)
		return res, nil
	}

	total := floats.Sum(suit)
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, &DegenerateSuitabilityError{
			Params:   in.Params,
			Total:    total,
			Change:   in.Change,
			Negative: negative,
			Cells:    len(in.Boundary),
		}
	}

	est := make([]float64, len(suit))
	for i, s := range suit {
		est[i] = s/total*in.Change + current[i]
	}

	iters, err := r.correct(est, suit, in.Params)
	if err != nil {
		return nil, err
	}
	res.Values = est
	res.CorrectionIterations = iters
	res.Total = floats.Sum(est)

	zap.L().Debug("redistribute: done",
		zap.Float64("alpha", in.Params.Alpha),
		zap.Float64("beta", in.Params.Beta),
		zap.Float64("change", in.Change),
		zap.Bool("negative", negative),
		zap.Int("correction_iterations", iters),
	)
	return res, nil
}

// weigh fuses raw scores with the mask. In negative mode, zero-mask cells
// that still hold population take the mean mask weight so they can lose
// people, and non-zero weights are inverted so less suitable cells decline
// more.
func weigh(scores, mask, current []float64, negative bool) []float64 {
	suit := make([]float64, len(scores))
	if !negative {
		for i := range scores {
			suit[i] = mask[i] * scores[i]
		}
		return suit
	}

	m := append([]float64(nil), mask...)
	mean := 0.0
	if len(m) > 0 {
		mean = floats.Sum(m) / float64(len(m))
	}
	for i := range m {
		if m[i] == 0 && current[i] != 0 {
			m[i] = mean
		}
	}
	for i := range scores {
		v := m[i] * scores[i]
		if v != 0 {
			v = 1 / v
		}
		suit[i] = v
	}
	return suit
}

// correct zeroes negative estimates and takes the deficit from the cells
// that are still positive, in proportion to their suitability, until no
// estimate is negative. The grand total is unchanged by each pass.
func (r *Redistributor) correct(est, suit []float64, p suitability.Params) (int, error) {
	for iter := 0; ; iter++ {
		var deficit float64
		for _, v := range est {
			if v < 0 {
				deficit -= v
			}
		}
		if deficit == 0 {
			return iter, nil
		}
		if iter >= r.maxCorrection {
			return iter, &ConservationNonconvergenceError{
				Params:     p,
				Iterations: iter,
				Deficit:    deficit,
				Reason:     "iteration limit reached",
			}
		}

		var positive float64
		for i, v := range est {
			if v < 0 {
				est[i] = 0
			} else if v > 0 {
				positive += suit[i]
			}
		}
		if positive == 0 || math.IsNaN(positive) || math.IsInf(positive, 0) {
			return iter, &ConservationNonconvergenceError{
				Params:     p,
				Iterations: iter,
				Deficit:    deficit,
				Reason:     "no positive cells with suitability left to absorb the deficit",
			}
		}
		for i, v := range est {
			if v > 0 {
				est[i] = v - suit[i]/positive*deficit
			}
		}
	}
}
