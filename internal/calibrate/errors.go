package calibrate

import (
	"fmt"

	"gonum.org/v1/gonum/optimize"
)

// EvaluationError ties an objective failure to the parameter pair that
// triggered it.
type EvaluationError struct {
	Params Params
	Region string
	Year   int
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("calibrate: objective at alpha=%g beta=%g (region=%q year=%d): %v",
		e.Params.Alpha, e.Params.Beta, e.Region, e.Year, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// OptimizationFailureError reports that local refinement did not converge.
// The grid-search seed is carried for diagnostics but is never returned as
// the calibrated result.
type OptimizationFailureError struct {
	Seed        Params
	Last        Params
	Status      optimize.Status
	Iterations  int
	Evaluations int
	Err         error
}

func (e *OptimizationFailureError) Error() string {
	msg := fmt.Sprintf("calibrate: refinement from alpha=%g beta=%g did not converge (status %v after %d iterations, last alpha=%g beta=%g)",
		e.Seed.Alpha, e.Seed.Beta, e.Status, e.Iterations, e.Last.Alpha, e.Last.Beta)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OptimizationFailureError) Unwrap() error { return e.Err }
