package optimization

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed arguments: shape mismatches, non-finite
	// values, empty inputs or an unusable constraint set.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientData is returned by a PriceFetcher that has no usable
	// rows for the requested symbols and window.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerateObjective is returned when the objective cannot be
	// evaluated at the starting point.
	ErrDegenerateObjective = errors.New("degenerate objective")

	// ErrInfeasible is returned when no point satisfying the constraints
	// could be found.
	ErrInfeasible = errors.New("infeasible constraints")
)

// Status describes how an optimizer run terminated.
type Status int

const (
	StatusConverged Status = iota
	StatusIterationLimit
	StatusLineSearchFailed
	StatusSubproblemFailed
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusIterationLimit:
		return "iteration_limit"
	case StatusLineSearchFailed:
		return "line_search_failed"
	case StatusSubproblemFailed:
		return "subproblem_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusConverged, StatusIterationLimit, StatusLineSearchFailed, StatusSubproblemFailed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown optimizer status %q", text)
}

// ConvergenceWarning accompanies a result whose weights are feasible but
// whose stationarity test was not met within the iteration budget.
type ConvergenceWarning struct {
	Status         Status
	Iterations     int
	Violation      float64
	LagrangianNorm float64
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("optimizer stopped without converging (%s after %d iterations, violation=%.3g, lagrangian_norm=%.3g)",
		w.Status, w.Iterations, w.Violation, w.LagrangianNorm)
}
