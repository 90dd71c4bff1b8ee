// Package calibrate fits the suitability parameters (alpha, beta) of the
// redistribution model to two observed population grids: a coarse grid
// search followed by a bounded local refinement.
package calibrate

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/popdownscale/internal/boundary"
	"github.com/sells-group/popdownscale/internal/grid"
	"github.com/sells-group/popdownscale/internal/suitability"
	"github.com/sells-group/popdownscale/internal/template"
)

// Params are the two free model parameters.
type Params = suitability.Params

// ProblemInput describes one calibration. NewProblem copies everything it
// needs, so the caller may reuse the grids afterwards.
type ProblemInput struct {
	Year1    *grid.Grid
	Year2    *grid.Grid
	Mask     *grid.Grid
	Boundary boundary.Set
	Template *template.Template

	// Region and Year label diagnostics only.
	Region string
	Year   int
}

// Problem holds the fixed inputs of a calibration. It is immutable once
// built and safe to share between goroutines.
type Problem struct {
	year1    *grid.Grid
	year2    *grid.Grid
	mask     *grid.Grid
	boundary boundary.Set
	template *template.Template
	region   string
	year     int
}

// NewProblem validates in and returns an immutable Problem.
func NewProblem(in ProblemInput) (*Problem, error) {
	if in.Year1 == nil || in.Year2 == nil || in.Mask == nil {
		return nil, eris.New("calibrate: year1, year2 and mask grids are required")
	}
	if !in.Year1.SameShape(in.Year2) || !in.Year1.SameShape(in.Mask) {
		return nil, eris.Errorf("calibrate: grid shapes differ (year1 %dx%d, year2 %dx%d, mask %dx%d)",
			in.Year1.Rows, in.Year1.Cols, in.Year2.Rows, in.Year2.Cols, in.Mask.Rows, in.Mask.Cols)
	}
	if in.Template == nil {
		return nil, eris.New("calibrate: template is required")
	}
	if in.Template.Dims != in.Year1.Dims {
		return nil, eris.New("calibrate: template was built for a different grid")
	}
	if err := in.Boundary.Validate(in.Year1.Dims); err != nil {
		return nil, eris.Wrap(err, "calibrate")
	}

	tmpl := *in.Template
	tmpl.Entries = append([]template.Entry(nil), in.Template.Entries...)
	return &Problem{
		year1:    in.Year1.Clone(),
		year2:    in.Year2.Clone(),
		mask:     in.Mask.Clone(),
		boundary: append(boundary.Set(nil), in.Boundary...),
		template: &tmpl,
		region:   in.Region,
		year:     in.Year,
	}, nil
}

// Region returns the diagnostic region label.
func (p *Problem) Region() string { return p.region }

// Year returns the diagnostic year label.
func (p *Problem) Year() int { return p.year }

// Cells returns the number of boundary cells.
func (p *Problem) Cells() int { return len(p.boundary) }

// Change is the observed boundary total of year 2 minus that of year 1,
// with negative and missing cells counted as zero.
func (p *Problem) Change() float64 {
	return p.boundary.Sum(p.year2) - p.boundary.Sum(p.year1)
}
