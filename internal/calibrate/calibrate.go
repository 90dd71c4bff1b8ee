package calibrate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/popdownscale/internal/redistribute"
)

// Result is the outcome of a calibration.
type Result struct {
	Params  Params
	Error   float64
	Seed    Record
	Records []Record
}

// Calibrator runs the two calibration phases in sequence.
type Calibrator struct {
	r       *redistribute.Redistributor
	grid    SearchGrid
	refiner Refiner
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithSearchGrid replaces the default first-phase grid.
func WithSearchGrid(g SearchGrid) Option {
	return func(c *Calibrator) { c.grid = g }
}

// WithRefiner replaces the default BFGS refiner.
func WithRefiner(r Refiner) Option {
	return func(c *Calibrator) { c.refiner = r }
}

// New creates a Calibrator that evaluates the objective on r.
func New(r *redistribute.Redistributor, opts ...Option) *Calibrator {
	if r == nil {
		r = redistribute.New(nil)
	}
	c := &Calibrator{r: r, grid: DefaultSearchGrid(), refiner: NewBoundedRefiner()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Calibrate searches the grid, then refines the best pair. When refinement
// fails the returned Result still carries the grid-search records and seed
// alongside the error, but its Params are left zero.
func (c *Calibrator) Calibrate(ctx context.Context, p *Problem) (*Result, error) {
	if p == nil {
		return nil, eris.New("calibrate: nil problem")
	}
	obj := NewObjective(p, c.r)
	log := zap.L().With(zap.String("region", p.Region()), zap.Int("year", p.Year()))
	log.Info("calibrate: grid search",
		zap.Int("pairs", c.grid.Size()),
		zap.Int("cells", p.Cells()),
		zap.Float64("change", obj.Change()),
	)

	records, seed, err := GridSearch(ctx, obj, c.grid)
	if err != nil {
		return nil, eris.Wrapf(err, "calibrate: grid search (region=%q year=%d)", p.Region(), p.Year())
	}
	log.Info("calibrate: seed",
		zap.Float64("alpha", seed.Alpha),
		zap.Float64("beta", seed.Beta),
		zap.Float64("error", seed.Error),
	)

	res := &Result{Seed: seed, Records: records}
	params, v, err := c.refiner.Refine(ctx, obj, seed.Params())
	if err != nil {
		return res, eris.Wrapf(err, "calibrate: refine (region=%q year=%d)", p.Region(), p.Year())
	}
	res.Params = params
	res.Error = v
	return res, nil
}
