package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSLSQP(settings Settings) *SLSQP {
	return NewSLSQP(settings, zerolog.Nop())
}

func TestSLSQP_QuadraticInterior(t *testing.T) {
	obj := objectiveFunc(func(w []float64) float64 {
		return (w[0]-0.8)*(w[0]-0.8) + (w[1]-0.4)*(w[1]-0.4)
	})

	res, err := newTestSLSQP(DefaultSettings()).Optimize(UniformWeights(2), obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, StatusConverged, res.Status)
	assert.Nil(t, res.Warning)
	assert.InDelta(t, 0.7, res.Weights[0], 1e-6)
	assert.InDelta(t, 0.3, res.Weights[1], 1e-6)
	assert.InDelta(t, 0.02, res.Objective, 1e-9)
}

func TestSLSQP_QuadraticOnBound(t *testing.T) {
	obj := objectiveFunc(func(w []float64) float64 {
		return (w[0]-2)*(w[0]-2) + w[1]*w[1]
	})

	res, err := newTestSLSQP(DefaultSettings()).Optimize(UniformWeights(2), obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, 1.0, res.Weights[0], 1e-9)
	assert.InDelta(t, 0.0, res.Weights[1], 1e-9)
}

func TestSLSQP_MaxSharpeTwoAssets(t *testing.T) {
	m := twoAssetScenario(t)
	obj, err := NewSharpeObjective(m, 0, 252)
	require.NoError(t, err)

	res, err := newTestSLSQP(DefaultSettings()).Optimize(UniformWeights(2), obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	requireLongOnly(t, res.Weights)
	assert.Greater(t, res.Weights[1], 0.5, "the higher Sharpe asset should dominate")
	assert.InDelta(t, 0.77, res.Weights[1], 0.01)
	assert.LessOrEqual(t, res.Iterations, 100)

	// The optimum beats both single-asset portfolios and the start.
	assert.Less(t, res.Objective, obj.Evaluate([]float64{1, 0}))
	assert.Less(t, res.Objective, obj.Evaluate([]float64{0, 1}))
	assert.Less(t, res.Objective, obj.Evaluate(UniformWeights(2)))
}

func TestSLSQP_FourReturnScenario(t *testing.T) {
	m := pricesFromReturns(t, []string{"A", "B"},
		[]float64{0.01, 0.02, -0.01, 0.03},
		[]float64{0, 0.01, 0.01, 0},
	)
	require.Equal(t, 5, m.Rows())
	obj, err := NewSharpeObjective(m, 0, 252)
	require.NoError(t, err)
	set := NewBudgetConstraints(2, FormulationBounds)

	res, err := newTestSLSQP(DefaultSettings()).Optimize(UniformWeights(2), obj, set)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	requireLongOnly(t, res.Weights)
	assert.Greater(t, res.Weights[1], 0.5)
	assert.InDelta(t, 0.7595, res.Weights[1], 0.005)

	penalty, err := NewPenaltySolver(DefaultSettings(), zerolog.Nop()).Optimize(UniformWeights(2), obj, set)
	require.NoError(t, err)
	requireLongOnly(t, penalty.Weights)
	assert.Greater(t, penalty.Weights[1], 0.5)
}

func TestSLSQP_SymmetricAssetsSplitEvenly(t *testing.T) {
	obj, err := NewSharpeObjective(symmetricScenario(t), 0, 252)
	require.NoError(t, err)

	res, err := newTestSLSQP(DefaultSettings()).Optimize(UniformWeights(2), obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, 0.5, res.Weights[0], 0.01)
	assert.InDelta(t, 0.5, res.Weights[1], 0.01)

	uniform := obj.Evaluate(UniformWeights(2))
	assert.InDelta(t, uniform, res.Objective, 1e-4)
	assert.LessOrEqual(t, res.Objective, uniform+1e-12)
}

func TestSLSQP_SingleAsset(t *testing.T) {
	m := pricesFromReturns(t, []string{"A"}, []float64{0.01, -0.02, 0.03})
	obj, err := NewSharpeObjective(m, 0, 252)
	require.NoError(t, err)

	res, err := newTestSLSQP(DefaultSettings()).Optimize([]float64{1}, obj, NewBudgetConstraints(1, FormulationBounds))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, []float64{1}, res.Weights)
	assert.Equal(t, 1, res.Iterations)
}

func TestSLSQP_FormulationsAgree(t *testing.T) {
	m := pricesFromReturns(t, []string{"A", "B", "C"},
		repeat([]float64{0.01, 0.02, -0.01, 0.03}, 5),
		repeat([]float64{0, 0.01, 0.01, 0}, 5),
		repeat([]float64{0.004, -0.006, 0.012, -0.002}, 5),
	)
	obj, err := NewSharpeObjective(m, 0, 252)
	require.NoError(t, err)
	solver := newTestSLSQP(DefaultSettings())

	viaBounds, err := solver.Optimize(UniformWeights(3), obj, NewBudgetConstraints(3, FormulationBounds))
	require.NoError(t, err)
	viaRows, err := solver.Optimize(UniformWeights(3), obj, NewBudgetConstraints(3, FormulationInequality))
	require.NoError(t, err)

	requireLongOnly(t, viaBounds.Weights)
	requireLongOnly(t, viaRows.Weights)
	assert.InDeltaSlice(t, viaBounds.Weights, viaRows.Weights, 1e-4)
}

func TestSLSQP_PriceScaleInvariance(t *testing.T) {
	m := twoAssetScenario(t)
	rows := make([][]float64, m.Rows())
	for k := range rows {
		rows[k] = []float64{m.At(k, 0) * 10, m.At(k, 1)}
	}
	scaled, err := NewPriceMatrix(m.Symbols(), m.Dates(), rows)
	require.NoError(t, err)

	solver := newTestSLSQP(DefaultSettings())
	base, err := NewSharpeObjective(m, 0, 252)
	require.NoError(t, err)
	other, err := NewSharpeObjective(scaled, 0, 252)
	require.NoError(t, err)

	r1, err := solver.Optimize(UniformWeights(2), base, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	r2, err := solver.Optimize(UniformWeights(2), other, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	assert.InDeltaSlice(t, r1.Weights, r2.Weights, 1e-6)
	assert.InDelta(t, r1.Objective, r2.Objective, 1e-9)
	assert.InDelta(t, base.Evaluate(r1.Weights), other.Evaluate(r1.Weights), 1e-12)

	s1, err := Summarize(r1.Weights, m, 0, 252)
	require.NoError(t, err)
	s2, err := Summarize(r2.Weights, scaled, 0, 252)
	require.NoError(t, err)
	assert.InDelta(t, s1.SharpeRatio, s2.SharpeRatio, 1e-6)
}

func TestSLSQP_Deterministic(t *testing.T) {
	obj, err := NewSharpeObjective(twoAssetScenario(t), 0, 252)
	require.NoError(t, err)
	solver := newTestSLSQP(DefaultSettings())
	set := NewBudgetConstraints(2, FormulationBounds)

	first, err := solver.Optimize(UniformWeights(2), obj, set)
	require.NoError(t, err)
	second, err := solver.Optimize(UniformWeights(2), obj, set)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSLSQP_InfeasibleStartIsProjected(t *testing.T) {
	obj, err := NewSharpeObjective(twoAssetScenario(t), 0, 252)
	require.NoError(t, err)

	res, err := newTestSLSQP(DefaultSettings()).Optimize([]float64{3, -1}, obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	requireLongOnly(t, res.Weights)
	assert.Greater(t, res.Weights[1], 0.5)
}

func TestSLSQP_IterationLimitReturnsWarning(t *testing.T) {
	obj, err := NewSharpeObjective(twoAssetScenario(t), 0, 252)
	require.NoError(t, err)

	res, err := newTestSLSQP(Settings{MaxIterations: 1, Tolerance: 1e-6}).Optimize(UniformWeights(2), obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, StatusIterationLimit, res.Status)
	assert.Equal(t, 1, res.Iterations)
	requireLongOnly(t, res.Weights)

	var warning *ConvergenceWarning
	require.True(t, errors.As(res.Warning, &warning))
	assert.Equal(t, 1, warning.Iterations)
	assert.Contains(t, warning.Error(), "iteration_limit")
}

func TestSLSQP_RejectsNonFiniteTrialPoints(t *testing.T) {
	obj := objectiveFunc(func(w []float64) float64 {
		if w[0] > 0.6 {
			return math.Inf(1)
		}
		return (w[0]-0.9)*(w[0]-0.9) + (w[1]-0.1)*(w[1]-0.1)
	})

	res, err := newTestSLSQP(DefaultSettings()).Optimize(UniformWeights(2), obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	requireLongOnly(t, res.Weights)
	assert.LessOrEqual(t, res.Weights[0], 0.6)
	assert.Greater(t, res.Weights[0], 0.55)
	assert.False(t, math.IsInf(res.Objective, 0))
}

func TestSLSQP_ZeroVolatilityStaysAtStart(t *testing.T) {
	flat, err := NewPriceMatrix([]string{"A", "B"}, nil, [][]float64{{10, 5}, {10, 5}, {10, 5}})
	require.NoError(t, err)
	obj, err := NewSharpeObjective(flat, 0, 252)
	require.NoError(t, err)

	res, err := newTestSLSQP(DefaultSettings()).Optimize(UniformWeights(2), obj, NewBudgetConstraints(2, FormulationBounds))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, UniformWeights(2), res.Weights)
}

func TestSLSQP_Errors(t *testing.T) {
	solver := newTestSLSQP(DefaultSettings())
	quad := objectiveFunc(func(w []float64) float64 { return w[0] * w[0] })

	_, err := solver.Optimize([]float64{1}, quad, NewBudgetConstraints(2, FormulationBounds))
	assert.ErrorIs(t, err, ErrInvalidInput, "wrong initial length")

	_, err = solver.Optimize([]float64{math.NaN(), 0}, quad, NewBudgetConstraints(2, FormulationBounds))
	assert.ErrorIs(t, err, ErrInvalidInput, "non-finite start")

	_, err = solver.Optimize([]float64{0.5}, nil, NewBudgetConstraints(1, FormulationBounds))
	assert.ErrorIs(t, err, ErrInvalidInput)

	undefined := objectiveFunc(func([]float64) float64 { return math.Inf(1) })
	_, err = solver.Optimize(UniformWeights(2), undefined, NewBudgetConstraints(2, FormulationBounds))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, ErrDegenerateObjective)

	infeasible := NewConstraintSet(2, Equality([]float64{1, 1}, 1), Bound(0, 0, 0.2), Bound(1, 0, 0.2))
	_, err = solver.Optimize(UniformWeights(2), quad, infeasible)
	assert.ErrorIs(t, err, ErrInfeasible)

	_, err = solver.Optimize(UniformWeights(2), quad, NewConstraintSet(2, Bound(5, 0, 1)))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDampedBFGSUpdate_StaysPositiveDefinite(t *testing.T) {
	b := identity(2)
	// Negative curvature along s would break a plain BFGS update.
	dampedBFGSUpdate(b, []float64{1, 0}, []float64{-1, 0})

	assert.Greater(t, b.At(0, 0), 0.0)
	det := b.At(0, 0)*b.At(1, 1) - b.At(0, 1)*b.At(1, 0)
	assert.Greater(t, det, 0.0)
}
