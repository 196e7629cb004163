package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBudgetConstraints_FormulationsAgree(t *testing.T) {
	bounds := NewBudgetConstraints(3, FormulationBounds)
	ineq := NewBudgetConstraints(3, FormulationInequality)

	require.NoError(t, bounds.Validate())
	require.NoError(t, ineq.Validate())
	assert.Equal(t, 4, bounds.Len())
	assert.Equal(t, 7, ineq.Len())

	points := [][]float64{
		{1.0 / 3, 1.0 / 3, 1.0 / 3},
		{1, 0, 0},
		{0.5, 0.6, -0.1},
		{1.2, -0.1, -0.1},
		{0.2, 0.2, 0.2},
	}
	for _, p := range points {
		assert.Equal(t, bounds.Feasible(p, 1e-9), ineq.Feasible(p, 1e-9), "point %v", p)
		assert.InDelta(t, bounds.Violation(p), ineq.Violation(p), 1e-12, "point %v", p)
	}
}

func TestConstraint_ResidualAndViolation(t *testing.T) {
	x := []float64{0.2, 0.5}

	eq := Equality([]float64{1, 1}, 1)
	assert.InDelta(t, -0.3, eq.Residual(x), 1e-12)
	assert.InDelta(t, 0.3, eq.Violation(x), 1e-12)

	ge := Inequality([]float64{1, 0}, 0.1)
	assert.InDelta(t, 0.1, ge.Residual(x), 1e-12)
	assert.Equal(t, 0.0, ge.Violation(x))

	lt := Inequality([]float64{-1, 0}, -0.1)
	assert.InDelta(t, 0.1, lt.Violation(x), 1e-12)

	b := Bound(1, 0, 0.4)
	assert.InDelta(t, 0.1, b.Residual(x), 1e-12)
	assert.InDelta(t, 0.1, b.Violation(x), 1e-12)
	assert.Equal(t, 0.0, Bound(0, 0, 1).Violation(x))
}

func TestConstraintSet_BoundsIntersect(t *testing.T) {
	set := NewConstraintSet(2, Bound(0, 0, 1), Bound(0, 0.1, 2), Bound(1, math.Inf(-1), 0.5))

	assert.Equal(t, []float64{0.1, math.Inf(-1)}, set.LowerBounds())
	assert.Equal(t, []float64{1, 0.5}, set.UpperBounds())
}

func TestConstraintSet_WithCopies(t *testing.T) {
	base := NewBudgetConstraints(2, FormulationBounds)
	extended := base.With(Equality([]float64{0.1, 0.2}, 0.15))

	assert.Equal(t, 3, base.Len())
	assert.Equal(t, 4, extended.Len())
	assert.Len(t, extended.Residuals([]float64{0.5, 0.5}), 4)
	assert.Equal(t, KindEquality, extended.Constraints()[3].Kind)
}

func TestConstraintSet_Validate(t *testing.T) {
	tests := []struct {
		name string
		set  *ConstraintSet
	}{
		{"no variables", NewConstraintSet(0)},
		{"short coefficients", NewConstraintSet(2, Equality([]float64{1}, 1))},
		{"zero coefficients", NewConstraintSet(2, Inequality([]float64{0, 0}, 1))},
		{"nan rhs", NewConstraintSet(1, Equality([]float64{1}, math.NaN()))},
		{"bound index", NewConstraintSet(1, Bound(1, 0, 1))},
		{"inverted bound", NewConstraintSet(1, Bound(0, 1, 0))},
		{"unknown kind", NewConstraintSet(1, Constraint{Kind: ConstraintKind(9)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.set.Validate(), ErrInvalidInput)
		})
	}
}

func TestConstraintSet_TotalViolation(t *testing.T) {
	set := NewBudgetConstraints(2, FormulationBounds)
	x := []float64{1.5, -0.2}

	assert.InDelta(t, 0.5, set.Violation(x), 1e-12)
	assert.InDelta(t, 0.3+0.5+0.2, set.TotalViolation(x), 1e-12)
	assert.False(t, set.Feasible(x, 1e-6))
	assert.False(t, set.Feasible([]float64{1}, 1e-6), "wrong dimension")
}
