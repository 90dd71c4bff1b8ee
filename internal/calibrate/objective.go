package calibrate

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/popdownscale/internal/redistribute"
)

// Evaluator scores one parameter pair; lower is better.
type Evaluator interface {
	Evaluate(ctx context.Context, p Params) (float64, error)
}

// Objective is the total absolute calibration error of the model: year 1
// is redistributed with the observed change and compared cell by cell
// with year 2.
type Objective struct {
	problem  *Problem
	r        *redistribute.Redistributor
	observed []float64
	change   float64
}

// NewObjective binds a problem to a redistributor.
func NewObjective(p *Problem, r *redistribute.Redistributor) *Objective {
	if r == nil {
		r = redistribute.New(nil)
	}
	return &Objective{
		problem:  p,
		r:        r,
		observed: p.boundary.Restrict(p.year2),
		change:   p.Change(),
	}
}

// Change is the boundary population change the objective redistributes.
func (o *Objective) Change() float64 { return o.change }

// Evaluate returns sum |year2[i] - estimate[i]| over the boundary.
func (o *Objective) Evaluate(ctx context.Context, p Params) (float64, error) {
	res, err := o.r.Redistribute(ctx, redistribute.Input{
		Population: o.problem.year1,
		Mask:       o.problem.mask,
		Boundary:   o.problem.boundary,
		Template:   o.problem.template,
		Params:     p,
		Change:     o.change,
	})
	if err != nil {
		return 0, &EvaluationError{Params: p, Region: o.problem.region, Year: o.problem.year, Err: err}
	}

	var total float64
	for i, est := range res.Values {
		total += math.Abs(o.observed[i] - est)
	}

	zap.L().Debug("calibrate: evaluated",
		zap.Float64("alpha", p.Alpha),
		zap.Float64("beta", p.Beta),
		zap.Float64("error", total),
	)
	return total, nil
}
