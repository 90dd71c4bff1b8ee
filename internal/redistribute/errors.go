package redistribute

import (
	"fmt"

	"github.com/sells-group/popdownscale/internal/suitability"
)

// DegenerateSuitabilityError reports that total suitability over the
// boundary is zero or non-finite, so the target change cannot be
// distributed.
type DegenerateSuitabilityError struct {
	Params   suitability.Params
	Total    float64
	Change   float64
	Negative bool
	Cells    int
}

func (e *DegenerateSuitabilityError) Error() string {
	return fmt.Sprintf("redistribute: degenerate total suitability %v over %d cells (alpha=%g beta=%g change=%g negative=%t)",
		e.Total, e.Cells, e.Params.Alpha, e.Params.Beta, e.Change, e.Negative)
}

// ConservationNonconvergenceError reports that the negative-population
// correction could not remove every negative estimate.
type ConservationNonconvergenceError struct {
	Params     suitability.Params
	Iterations int
	Deficit    float64
	Reason     string
}

func (e *ConservationNonconvergenceError) Error() string {
	return fmt.Sprintf("redistribute: negative correction did not converge after %d iterations, deficit %g (alpha=%g beta=%g): %s",
		e.Iterations, e.Deficit, e.Params.Alpha, e.Params.Beta, e.Reason)
}
