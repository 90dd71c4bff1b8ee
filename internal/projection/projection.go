// Package projection chains redistributions decade by decade: each step
// moves the boundary total to the next aggregate target using the
// parameters calibrated for the current year, and its output grid starts
// the following step.
package projection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/popdownscale/internal/boundary"
	"github.com/sells-group/popdownscale/internal/grid"
	"github.com/sells-group/popdownscale/internal/redistribute"
	"github.com/sells-group/popdownscale/internal/suitability"
	"github.com/sells-group/popdownscale/internal/template"
)

// DefaultStep is the projection interval in years.
const DefaultStep = 10

// Targets yields the aggregate population a region must reach in a year.
type Targets interface {
	Lookup(region string, year int) (float64, error)
}

// ParameterSource yields calibrated parameters for a year and scenario.
type ParameterSource interface {
	Lookup(year int, scenario, region string) (suitability.Params, error)
}

// Plan selects the years, region and scenario of a projection.
type Plan struct {
	Region    string
	Scenario  string
	StartYear int
	EndYear   int
	Step      int
	// OutputDir receives one raster per projected year when set.
	OutputDir string
}

func (p Plan) validate() error {
	if p.Step <= 0 {
		return eris.Errorf("projection: step must be positive, got %d", p.Step)
	}
	if p.EndYear <= p.StartYear {
		return eris.Errorf("projection: end year %d is not after start year %d", p.EndYear, p.StartYear)
	}
	return nil
}

// Inputs are the grids a projection starts from. Start is never modified.
type Inputs struct {
	Start    *grid.Grid
	Mask     *grid.Grid
	Boundary boundary.Set
	Template *template.Template
}

// Step is the outcome of one projected interval.
type Step struct {
	FromYear             int
	ToYear               int
	Params               suitability.Params
	Current              float64
	Target               float64
	Change               float64
	CorrectionIterations int
	Grid                 *grid.Grid
	Output               string
}

// Projector runs projection plans.
type Projector struct {
	r       *redistribute.Redistributor
	targets Targets
	params  ParameterSource
}

// New creates a Projector.
func New(r *redistribute.Redistributor, targets Targets, params ParameterSource) *Projector {
	if r == nil {
		r = redistribute.New(nil)
	}
	return &Projector{r: r, targets: targets, params: params}
}

// OutputName is the raster file name for a projected year.
func OutputName(scenario string, year int) string {
	return fmt.Sprintf("pop_grid_%s_%d.asc", scenario, year)
}

// Run projects from plan.StartYear until plan.EndYear. Every completed step
// is returned, also when a later one fails; the error names the failing
// year, region and scenario.
func (p *Projector) Run(ctx context.Context, plan Plan, in Inputs) ([]Step, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}
	if in.Start == nil {
		return nil, eris.New("projection: start grid is required")
	}
	if plan.OutputDir != "" {
		if err := os.MkdirAll(plan.OutputDir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "projection: create %s", plan.OutputDir)
		}
	}

	var steps []Step
	cur := in.Start
	for year := plan.StartYear; year < plan.EndYear; year += plan.Step {
		if err := ctx.Err(); err != nil {
			return steps, eris.Wrap(err, "projection: cancelled")
		}
		next := min(year+plan.Step, plan.EndYear)
		step, err := p.step(ctx, plan, in, cur, year, next)
		if err != nil {
			return steps, eris.Wrapf(err, "projection: year %d -> %d (region=%q scenario=%q)",
				year, next, plan.Region, plan.Scenario)
		}
		steps = append(steps, *step)
		cur = step.Grid
	}
	return steps, nil
}

func (p *Projector) step(ctx context.Context, plan Plan, in Inputs, cur *grid.Grid, year, next int) (*Step, error) {
	params, err := p.params.Lookup(year, plan.Scenario, plan.Region)
	if err != nil {
		return nil, err
	}
	target, err := p.targets.Lookup(plan.Region, next)
	if err != nil {
		return nil, err
	}

	current := in.Boundary.Sum(cur)
	change := target - current
	res, err := p.r.Redistribute(ctx, redistribute.Input{
		Population: cur,
		Mask:       in.Mask,
		Boundary:   in.Boundary,
		Template:   in.Template,
		Params:     params,
		Change:     change,
	})
	if err != nil {
		return nil, err
	}

	out, err := in.Boundary.Scatter(cur, res.Values)
	if err != nil {
		return nil, err
	}

	s := &Step{
		FromYear:             year,
		ToYear:               next,
		Params:               params,
		Current:              current,
		Target:               target,
		Change:               change,
		CorrectionIterations: res.CorrectionIterations,
		Grid:                 out,
	}
	if plan.OutputDir != "" {
		s.Output = filepath.Join(plan.OutputDir, OutputName(plan.Scenario, next))
		if err := grid.WriteASCIIFile(s.Output, out); err != nil {
			return nil, err
		}
	}

	zap.L().Info("projection: step done",
		zap.String("region", plan.Region),
		zap.String("scenario", plan.Scenario),
		zap.Int("year", next),
		zap.Float64("alpha", params.Alpha),
		zap.Float64("beta", params.Beta),
		zap.Float64("change", change),
		zap.Float64("total", res.Total),
	)
	return s, nil
}

// ParseStartRaster derives the region and year from a start raster laid
// out as <region>/<name>_<year>.asc.
func ParseStartRaster(path string) (string, int, error) {
	region := filepath.Base(filepath.Dir(path))
	if region == "." || region == string(filepath.Separator) {
		region = ""
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, tok := range strings.Split(name, "_") {
		if tok == "" || strings.Trim(tok, "0123456789") != "" {
			continue
		}
		year, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		return region, year, nil
	}
	return region, 0, eris.Errorf("projection: no year in raster name %q", filepath.Base(path))
}
