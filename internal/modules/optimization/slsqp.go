package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	armijoFactor      = 1e-4
	maxLineSearchHalv = 30
	stallStep         = 1e-14
)

// Settings configures an iterative solver.
type Settings struct {
	MaxIterations int
	// Tolerance bounds the constraint violation and, scaled by
	// max(1, |f|), the infinity norm of the Lagrangian gradient.
	Tolerance float64
	// GradientStep is the central-difference step; zero selects the
	// gonum default for the central formula.
	GradientStep float64
}

// DefaultSettings returns 100 iterations at tolerance 1e-6.
func DefaultSettings() Settings {
	return Settings{MaxIterations: 100, Tolerance: 1e-6}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if !(s.Tolerance > 0) {
		s.Tolerance = d.Tolerance
	}
	return s
}

// OptimizationResult is the outcome of a solver run. Weights always satisfy
// the constraints within tolerance; Warning is set when the run stopped
// before the stationarity test passed.
type OptimizationResult struct {
	Weights             []float64
	Converged           bool
	Iterations          int
	Objective           float64
	Status              Status
	ConstraintViolation float64
	LagrangianNorm      float64
	Warning             error
}

// Solver minimizes an objective over a linear constraint set.
type Solver interface {
	Optimize(initial []float64, objective Objective, constraints *ConstraintSet) (OptimizationResult, error)
}

// SLSQP is a sequential quadratic programming solver for smooth objectives
// under linear constraints. Each iteration solves a quadratic model built
// from a damped BFGS Hessian approximation and takes a backtracking step on
// an L1 merit function.
type SLSQP struct {
	settings Settings
	log      zerolog.Logger
}

func NewSLSQP(settings Settings, log zerolog.Logger) *SLSQP {
	return &SLSQP{
		settings: settings.withDefaults(),
		log:      log.With().Str("solver", "slsqp").Logger(),
	}
}

func (s *SLSQP) Optimize(initial []float64, objective Objective, constraints *ConstraintSet) (OptimizationResult, error) {
	if objective == nil || constraints == nil {
		return OptimizationResult{}, fmt.Errorf("%w: objective and constraints are required", ErrInvalidInput)
	}
	if err := constraints.Validate(); err != nil {
		return OptimizationResult{}, err
	}
	n := constraints.Dim()
	if len(initial) != n {
		return OptimizationResult{}, fmt.Errorf("%w: initial point has %d coordinates, expected %d", ErrInvalidInput, len(initial), n)
	}
	if !allFinite(initial) {
		return OptimizationResult{}, fmt.Errorf("%w: initial point is not finite", ErrInvalidInput)
	}

	x, err := ProjectFeasible(initial, constraints)
	if err != nil {
		return OptimizationResult{}, err
	}
	f := objective.Evaluate(x)
	g := make([]float64, n)
	if !isFinite(f) || !s.gradient(g, objective, x) {
		return OptimizationResult{}, fmt.Errorf("%w: %w: objective is not finite at the starting point", ErrInvalidInput, ErrDegenerateObjective)
	}

	lo, hi := constraints.LowerBounds(), constraints.UpperBounds()
	eqRows, ineqRows := constraints.linearRows()
	hessian := identity(n)
	freshHessian := true
	var penalty float64

	result := OptimizationResult{Status: StatusIterationLimit, LagrangianNorm: math.Inf(1)}
	iter := 0
	for iter < s.settings.MaxIterations {
		iter++
		sol, err := solveQP(subproblem(hessian, g, x, eqRows, ineqRows))
		if err != nil {
			s.log.Debug().Err(err).Int("iteration", iter).Msg("Quadratic subproblem failed")
			if freshHessian {
				result.Status = StatusSubproblemFailed
				break
			}
			hessian, freshHessian = identity(n), true
			continue
		}

		lagGrad := append([]float64(nil), g...)
		for k, row := range eqRows {
			floats.AddScaled(lagGrad, -sol.lambdaEq[k], row.a)
		}
		for k, row := range ineqRows {
			floats.AddScaled(lagGrad, -sol.lambdaIneq[k], row.a)
		}
		violation := constraints.Violation(x)
		result.LagrangianNorm = floats.Norm(lagGrad, math.Inf(1))

		s.log.Debug().
			Int("iteration", iter).
			Float64("objective", f).
			Float64("lagrangian_norm", result.LagrangianNorm).
			Float64("violation", violation).
			Msg("SQP iteration")

		if violation <= s.settings.Tolerance &&
			(result.LagrangianNorm <= s.settings.Tolerance*math.Max(1, math.Abs(f)) || floats.Norm(sol.d, math.Inf(1)) <= stallStep) {
			result.Status = StatusConverged
			break
		}

		for _, l := range sol.lambdaEq {
			penalty = math.Max(penalty, 1.5*math.Abs(l))
		}
		for _, l := range sol.lambdaIneq {
			penalty = math.Max(penalty, 1.5*math.Abs(l))
		}

		next, fNext, gNext, ok := s.lineSearch(objective, constraints, x, f, g, sol.d, penalty, lo, hi)
		if !ok {
			if freshHessian {
				result.Status = StatusLineSearchFailed
				break
			}
			s.log.Debug().Int("iteration", iter).Msg("Line search failed, resetting Hessian approximation")
			hessian, freshHessian = identity(n), true
			continue
		}

		step := make([]float64, n)
		floats.SubTo(step, next, x)
		change := make([]float64, n)
		floats.SubTo(change, gNext, g)
		dampedBFGSUpdate(hessian, step, change)
		freshHessian = false

		x, f, g = next, fNext, gNext
	}

	result.Weights = x
	result.Iterations = iter
	result.Objective = f
	result.ConstraintViolation = constraints.Violation(x)
	result.Converged = result.Status == StatusConverged
	if !result.Converged {
		result.Warning = &ConvergenceWarning{
			Status:         result.Status,
			Iterations:     iter,
			Violation:      result.ConstraintViolation,
			LagrangianNorm: result.LagrangianNorm,
		}
		s.log.Warn().Err(result.Warning).Msg("Optimization did not converge")
	}
	return result, nil
}

// lineSearch backtracks along d until the L1 merit function decreases
// sufficiently. Trial points where the objective or its gradient is not
// finite are rejected and the step halved.
func (s *SLSQP) lineSearch(
	objective Objective,
	constraints *ConstraintSet,
	x []float64,
	f float64,
	g, d []float64,
	penalty float64,
	lo, hi []float64,
) ([]float64, float64, []float64, bool) {
	n := len(x)
	merit := f + penalty*constraints.TotalViolation(x)
	slope := math.Min(floats.Dot(g, d)-penalty*constraints.TotalViolation(x), 0)

	alpha := 1.0
	for k := 0; k < maxLineSearchHalv; k++ {
		trial := append([]float64(nil), x...)
		floats.AddScaled(trial, alpha, d)
		clip(trial, lo, hi)
		if floats.Equal(trial, x) {
			break
		}

		ft := objective.Evaluate(trial)
		if !isFinite(ft) {
			s.log.Debug().Float64("alpha", alpha).Err(ErrDegenerateObjective).Msg("Rejected trial step")
			alpha *= 0.5
			continue
		}
		if ft+penalty*constraints.TotalViolation(trial) <= merit+armijoFactor*alpha*slope {
			gt := make([]float64, n)
			if s.gradient(gt, objective, trial) {
				return trial, ft, gt, true
			}
		}
		alpha *= 0.5
	}
	return nil, 0, nil, false
}

// gradient fills dst and reports whether every component is finite.
func (s *SLSQP) gradient(dst []float64, objective Objective, x []float64) bool {
	numericalGradient(dst, objective, x, s.settings.GradientStep)
	return allFinite(dst)
}

func numericalGradient(dst []float64, objective Objective, x []float64, step float64) {
	if g, ok := objective.(GradientObjective); ok {
		g.Gradient(dst, x)
		return
	}
	fd.Gradient(dst, objective.Evaluate, x, &fd.Settings{Formula: fd.Central, Step: step})
}

// subproblem linearizes the constraints at x: a·(x+d) = b becomes
// a·d = b - a·x.
func subproblem(h *mat.SymDense, g, x []float64, eq, ineq []linearRow) qpProblem {
	p := qpProblem{h: h, c: g}
	for _, row := range eq {
		p.eq = append(p.eq, linearRow{a: row.a, b: row.b - floats.Dot(row.a, x)})
	}
	for _, row := range ineq {
		p.ineq = append(p.ineq, linearRow{a: row.a, b: row.b - floats.Dot(row.a, x)})
	}
	return p
}

// dampedBFGSUpdate applies Powell's damped BFGS formula in place, which
// keeps the approximation positive definite when sᵀy is small or negative.
func dampedBFGSUpdate(b *mat.SymDense, s, y []float64) {
	n := len(s)
	sv := mat.NewVecDense(n, s)
	bs := mat.NewVecDense(n, nil)
	bs.MulVec(b, sv)
	sBs := mat.Dot(sv, bs)
	if !(sBs > 0) {
		return
	}
	sy := floats.Dot(s, y)
	theta := 1.0
	if sy < 0.2*sBs {
		theta = 0.8 * sBs / (sBs - sy)
	}
	// r = θy + (1-θ)Bs
	rData := make([]float64, n)
	floats.AddScaledTo(rData, rData, theta, y)
	floats.AddScaled(rData, 1-theta, bs.RawVector().Data)
	r := mat.NewVecDense(n, rData)
	sr := mat.Dot(sv, r)
	if !(sr > 0) {
		return
	}
	b.SymRankOne(b, -1/sBs, bs)
	b.SymRankOne(b, 1/sr, r)
}

func identity(n int) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// UniformWeights returns the equal-weight portfolio of n assets.
func UniformWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}
