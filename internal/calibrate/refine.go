package calibrate

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Bounds is the box the refined parameters must stay in.
type Bounds struct {
	AlphaMin float64 `mapstructure:"alpha_min" yaml:"alpha_min"`
	AlphaMax float64 `mapstructure:"alpha_max" yaml:"alpha_max"`
	BetaMin  float64 `mapstructure:"beta_min"  yaml:"beta_min"`
	BetaMax  float64 `mapstructure:"beta_max"  yaml:"beta_max"`
}

// DefaultBounds is alpha in [-2, 2] and beta in [-0.5, 2].
func DefaultBounds() Bounds {
	return Bounds{AlphaMin: -2, AlphaMax: 2, BetaMin: -0.5, BetaMax: 2}
}

// Validate checks that both intervals are finite and non-empty.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.AlphaMin, b.AlphaMax, b.BetaMin, b.BetaMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.New("calibrate: bounds must be finite")
		}
	}
	if b.AlphaMin >= b.AlphaMax || b.BetaMin >= b.BetaMax {
		return eris.Errorf("calibrate: empty bounds alpha [%g, %g] beta [%g, %g]",
			b.AlphaMin, b.AlphaMax, b.BetaMin, b.BetaMax)
	}
	return nil
}

// Contains reports whether p lies inside the box.
func (b Bounds) Contains(p Params) bool {
	return p.Alpha >= b.AlphaMin && p.Alpha <= b.AlphaMax &&
		p.Beta >= b.BetaMin && p.Beta <= b.BetaMax
}

// Refiner improves a seed found by the grid search.
type Refiner interface {
	Refine(ctx context.Context, ev Evaluator, seed Params) (Params, float64, error)
}

// Refinement methods understood by BoundedRefiner.
const (
	MethodBFGS       = "bfgs"
	MethodLBFGS      = "lbfgs"
	MethodNelderMead = "neldermead"
)

// Defaults for BoundedRefiner.
const (
	DefaultStep               = 0.01
	DefaultTolerance          = 0.01
	DefaultConvergeIterations = 2
	DefaultMaxIterations      = 100
)

// BoundedRefiner minimizes the objective inside Bounds with gonum's
// optimizers. Each parameter is mapped through a logistic function so the
// search runs unconstrained while every evaluated point stays in the box.
// Gradients are finite differences taken in parameter units: central inside
// the box, one-sided within Step of an edge.
type BoundedRefiner struct {
	Bounds Bounds
	Method string
	// Step is the finite-difference step in parameter units.
	Step float64
	// Tolerance is the absolute objective improvement below which
	// iterations count towards convergence.
	Tolerance          float64
	ConvergeIterations int
	MaxIterations      int
}

// NewBoundedRefiner returns a BFGS refiner with the default settings.
func NewBoundedRefiner() *BoundedRefiner {
	return &BoundedRefiner{
		Bounds:             DefaultBounds(),
		Method:             MethodBFGS,
		Step:               DefaultStep,
		Tolerance:          DefaultTolerance,
		ConvergeIterations: DefaultConvergeIterations,
		MaxIterations:      DefaultMaxIterations,
	}
}

func (r *BoundedRefiner) method() (optimize.Method, error) {
	switch strings.ToLower(r.Method) {
	case "", MethodBFGS:
		return &optimize.BFGS{}, nil
	case MethodLBFGS:
		return &optimize.LBFGS{}, nil
	case MethodNelderMead:
		return &optimize.NelderMead{}, nil
	default:
		return nil, eris.Errorf("calibrate: unknown refinement method %q", r.Method)
	}
}

// box maps between the bounded parameter space and the unconstrained space
// the optimizer walks.
type box struct {
	lo, hi [2]float64
}

func newBox(b Bounds) box {
	return box{lo: [2]float64{b.AlphaMin, b.BetaMin}, hi: [2]float64{b.AlphaMax, b.BetaMax}}
}

func sigmoid(u float64) float64 { return 1 / (1 + math.Exp(-u)) }

func (b box) toParams(u []float64) []float64 {
	x := make([]float64, 2)
	for i := range x {
		v := b.lo[i] + (b.hi[i]-b.lo[i])*sigmoid(u[i])
		x[i] = math.Min(math.Max(v, b.lo[i]), b.hi[i])
	}
	return x
}

// gradient differentiates f at x without leaving the box. Coordinates
// closer than step to an edge use the one-sided formula pointing inward.
func (b box) gradient(f func([]float64) float64, x []float64, step float64) []float64 {
	g := make([]float64, len(x))
	xi := make([]float64, len(x))
	for i := range x {
		h := math.Min(step, (b.hi[i]-b.lo[i])/2)
		formula := fd.Central
		switch {
		case x[i]-h < b.lo[i]:
			formula = fd.Forward
		case x[i]+h > b.hi[i]:
			formula = fd.Backward
		}
		copy(xi, x)
		g[i] = fd.Derivative(func(v float64) float64 {
			xi[i] = v
			return f(xi)
		}, x[i], &fd.Settings{Formula: formula, Step: h})
	}
	return g
}

// toFree inverts toParams. Points on or outside the box are pulled just
// inside so the logit stays finite.
func (b box) toFree(x []float64) []float64 {
	u := make([]float64, 2)
	for i := range u {
		span := b.hi[i] - b.lo[i]
		eps := 1e-6 * span
		v := math.Min(math.Max(x[i], b.lo[i]+eps), b.hi[i]-eps)
		t := (v - b.lo[i]) / span
		u[i] = math.Log(t / (1 - t))
	}
	return u
}

// slope is dx/du at u.
func (b box) slope(u []float64, i int) float64 {
	s := sigmoid(u[i])
	return (b.hi[i] - b.lo[i]) * s * (1 - s)
}

// Refine runs the configured optimizer from seed. A status other than
// convergence, an optimizer error or an objective failure is returned as
// an error; the seed is never handed back in place of a refined result.
func (r *BoundedRefiner) Refine(ctx context.Context, ev Evaluator, seed Params) (Params, float64, error) {
	if err := r.Bounds.Validate(); err != nil {
		return Params{}, 0, err
	}
	method, err := r.method()
	if err != nil {
		return Params{}, 0, err
	}
	step := r.Step
	if step <= 0 {
		step = DefaultStep
	}
	tol := r.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	convergeIters := r.ConvergeIterations
	if convergeIters <= 0 {
		convergeIters = DefaultConvergeIterations
	}
	maxIters := r.MaxIterations
	if maxIters <= 0 {
		maxIters = DefaultMaxIterations
	}

	bx := newBox(r.Bounds)
	var (
		evalErr error
		evals   int
	)
	objective := func(x []float64) float64 {
		if evalErr != nil {
			return math.Inf(1)
		}
		if err := ctx.Err(); err != nil {
			evalErr = eris.Wrap(err, "calibrate: refinement cancelled")
			return math.Inf(1)
		}
		evals++
		v, err := ev.Evaluate(ctx, Params{Alpha: x[0], Beta: x[1]})
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		return v
	}

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			return objective(bx.toParams(u))
		},
		Grad: func(grad, u []float64) {
			gx := bx.gradient(objective, bx.toParams(u), step)
			for i := range grad {
				grad[i] = gx[i] * bx.slope(u, i)
			}
		},
		Status: func() (optimize.Status, error) {
			if evalErr != nil {
				return optimize.Failure, evalErr
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   tol,
			Iterations: convergeIters,
		},
		MajorIterations: maxIters,
	}

	seedX := []float64{seed.Alpha, seed.Beta}
	result, err := optimize.Minimize(problem, bx.toFree(seedX), settings, method)

	failure := &OptimizationFailureError{Seed: seed, Evaluations: evals, Err: err}
	if evalErr != nil {
		failure.Err = evalErr
	}
	if result != nil {
		x := bx.toParams(result.X)
		failure.Last = Params{Alpha: x[0], Beta: x[1]}
		failure.Status = result.Status
		failure.Iterations = result.MajorIterations
	}
	if failure.Err != nil || result == nil || !converged(result.Status) {
		return Params{}, 0, failure
	}

	zap.L().Info("calibrate: refinement converged",
		zap.Float64("alpha", failure.Last.Alpha),
		zap.Float64("beta", failure.Last.Beta),
		zap.Float64("error", result.F),
		zap.Stringer("status", result.Status),
		zap.Int("iterations", result.MajorIterations),
		zap.Int("evaluations", evals),
	)
	return failure.Last, result.F, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.FunctionThreshold, optimize.MethodConverge:
		return true
	}
	return false
}
