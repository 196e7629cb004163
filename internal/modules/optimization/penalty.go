package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// PenaltySolver minimizes the objective plus quadratic penalties on
// constraint violations with gonum's unconstrained methods, projecting onto
// the bound box inside every evaluation. It tries BFGS first and falls back
// to Nelder-Mead.
type PenaltySolver struct {
	settings      Settings
	penaltyWeight float64
	log           zerolog.Logger
}

func NewPenaltySolver(settings Settings, log zerolog.Logger) *PenaltySolver {
	return &PenaltySolver{
		settings:      settings.withDefaults(),
		penaltyWeight: 1000.0,
		log:           log.With().Str("solver", "penalty").Logger(),
	}
}

func (p *PenaltySolver) Optimize(initial []float64, objective Objective, constraints *ConstraintSet) (OptimizationResult, error) {
	if objective == nil || constraints == nil {
		return OptimizationResult{}, fmt.Errorf("%w: objective and constraints are required", ErrInvalidInput)
	}
	if err := constraints.Validate(); err != nil {
		return OptimizationResult{}, err
	}
	n := constraints.Dim()
	if len(initial) != n || !allFinite(initial) {
		return OptimizationResult{}, fmt.Errorf("%w: initial point must have %d finite coordinates", ErrInvalidInput, n)
	}

	start, err := ProjectFeasible(initial, constraints)
	if err != nil {
		return OptimizationResult{}, err
	}
	if !isFinite(objective.Evaluate(start)) {
		return OptimizationResult{}, fmt.Errorf("%w: %w: objective is not finite at the starting point", ErrInvalidInput, ErrDegenerateObjective)
	}

	lo, hi := constraints.LowerBounds(), constraints.UpperBounds()
	eqRows, ineqRows := constraints.linearRows()
	project := func(x []float64) []float64 {
		proj := append([]float64(nil), x...)
		clip(proj, lo, hi)
		return proj
	}
	penalized := func(x []float64) float64 {
		xProj := project(x)
		obj := objective.Evaluate(xProj)
		for _, row := range eqRows {
			r := floats.Dot(row.a, xProj) - row.b
			obj += p.penaltyWeight * r * r
		}
		for _, row := range ineqRows {
			if r := floats.Dot(row.a, xProj) - row.b; r < 0 {
				obj += p.penaltyWeight * r * r
			}
		}
		return obj
	}

	problem := optimize.Problem{
		Func: penalized,
		Grad: func(grad, x []float64) {
			numericalGradient(grad, objectiveFunc(penalized), x, p.settings.GradientStep)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: p.settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   p.settings.Tolerance * 1e-3,
			Iterations: 20,
		},
	}

	result, err := optimize.Minimize(problem, start, settings, &optimize.BFGS{})
	if err != nil || !acceptableStatus(result.Status) {
		p.log.Debug().Err(err).Msg("BFGS failed, falling back to Nelder-Mead")
		fallback, fbErr := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
		if fbErr == nil || result == nil {
			result, err = fallback, fbErr
		}
	}
	if result == nil {
		return OptimizationResult{}, fmt.Errorf("optimization failed: %w", err)
	}

	weights := project(result.X)
	weights = p.restoreFeasibility(weights, constraints)
	out := OptimizationResult{
		Weights:             weights,
		Iterations:          result.Stats.MajorIterations,
		Objective:           objective.Evaluate(weights),
		ConstraintViolation: constraints.Violation(weights),
		LagrangianNorm:      math.NaN(),
		Status:              StatusConverged,
	}
	if result.Status == optimize.IterationLimit {
		out.Status = StatusIterationLimit
	} else if err != nil || !acceptableStatus(result.Status) {
		out.Status = StatusLineSearchFailed
	}
	out.Converged = out.Status == StatusConverged && out.ConstraintViolation <= p.settings.Tolerance
	if !out.Converged {
		out.Warning = &ConvergenceWarning{
			Status:     out.Status,
			Iterations: out.Iterations,
			Violation:  out.ConstraintViolation,
		}
		p.log.Warn().Err(out.Warning).Msg("Optimization did not converge")
	}
	return out, nil
}

// restoreFeasibility projects the penalized minimizer back onto the
// constraint set when the penalties left a residual violation.
func (p *PenaltySolver) restoreFeasibility(x []float64, constraints *ConstraintSet) []float64 {
	if constraints.Violation(x) <= feasibilityTolerance {
		return x
	}
	proj, err := ProjectFeasible(x, constraints)
	if err != nil {
		p.log.Debug().Err(err).Msg("Could not restore feasibility")
		return x
	}
	return proj
}

func acceptableStatus(status optimize.Status) bool {
	return status == optimize.Success ||
		status == optimize.GradientThreshold ||
		status == optimize.FunctionConvergence
}

// objectiveFunc adapts a plain function to Objective.
type objectiveFunc func([]float64) float64

func (f objectiveFunc) Evaluate(x []float64) float64 { return f(x) }
