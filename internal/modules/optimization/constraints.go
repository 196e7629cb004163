package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ConstraintKind tags the variant held by a Constraint.
type ConstraintKind int

const (
	// KindEquality requires Coeffs·x = RHS.
	KindEquality ConstraintKind = iota
	// KindInequality requires Coeffs·x >= RHS.
	KindInequality
	// KindBound requires Low <= x[Index] <= High.
	KindBound
)

func (k ConstraintKind) String() string {
	switch k {
	case KindEquality:
		return "equality"
	case KindInequality:
		return "inequality"
	case KindBound:
		return "bound"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Constraint is a linear restriction on the weight vector.
type Constraint struct {
	Kind   ConstraintKind
	Coeffs []float64
	RHS    float64
	Index  int
	Low    float64
	High   float64
}

func Equality(coeffs []float64, rhs float64) Constraint {
	return Constraint{Kind: KindEquality, Coeffs: append([]float64(nil), coeffs...), RHS: rhs}
}

func Inequality(coeffs []float64, rhs float64) Constraint {
	return Constraint{Kind: KindInequality, Coeffs: append([]float64(nil), coeffs...), RHS: rhs}
}

// Bound restricts a single coordinate. Use ±Inf for a one-sided bound.
func Bound(index int, low, high float64) Constraint {
	return Constraint{Kind: KindBound, Index: index, Low: low, High: high}
}

// Residual is Coeffs·x - RHS for linear constraints and the signed distance
// outside [Low, High] for bounds (zero when inside).
func (c Constraint) Residual(x []float64) float64 {
	switch c.Kind {
	case KindBound:
		v := x[c.Index]
		if v < c.Low {
			return v - c.Low
		}
		if v > c.High {
			return v - c.High
		}
		return 0
	default:
		return floats.Dot(c.Coeffs, x) - c.RHS
	}
}

// Violation is the non-negative amount by which x breaks the constraint.
func (c Constraint) Violation(x []float64) float64 {
	r := c.Residual(x)
	switch c.Kind {
	case KindInequality:
		return math.Max(0, -r)
	default:
		return math.Abs(r)
	}
}

// Formulation selects how the long-only budget constraints are expressed.
type Formulation int

const (
	// FormulationBounds uses one Bound(i, 0, 1) per asset.
	FormulationBounds Formulation = iota
	// FormulationInequality uses w_i >= 0 and -w_i >= -1 rows.
	FormulationInequality
)

// ConstraintSet is an ordered collection of constraints over n variables.
type ConstraintSet struct {
	n           int
	constraints []Constraint
}

func NewConstraintSet(n int, constraints ...Constraint) *ConstraintSet {
	return &ConstraintSet{n: n, constraints: append([]Constraint(nil), constraints...)}
}

// NewBudgetConstraints builds Σw = 1 plus 0 <= w_i <= 1 for every asset.
// Both formulations describe the same feasible set.
func NewBudgetConstraints(n int, formulation Formulation) *ConstraintSet {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	set := NewConstraintSet(n, Equality(ones, 1))
	for i := 0; i < n; i++ {
		switch formulation {
		case FormulationInequality:
			unit := make([]float64, n)
			unit[i] = 1
			set.constraints = append(set.constraints, Inequality(unit, 0))
			unit = make([]float64, n)
			unit[i] = -1
			set.constraints = append(set.constraints, Inequality(unit, -1))
		default:
			set.constraints = append(set.constraints, Bound(i, 0, 1))
		}
	}
	return set
}

// With returns a copy of the set extended by constraints.
func (s *ConstraintSet) With(constraints ...Constraint) *ConstraintSet {
	out := NewConstraintSet(s.n, s.constraints...)
	out.constraints = append(out.constraints, constraints...)
	return out
}

// Dim returns the number of variables.
func (s *ConstraintSet) Dim() int { return s.n }

func (s *ConstraintSet) Len() int { return len(s.constraints) }

func (s *ConstraintSet) Constraints() []Constraint {
	return append([]Constraint(nil), s.constraints...)
}

// Validate checks shapes and finiteness.
func (s *ConstraintSet) Validate() error {
	if s.n < 1 {
		return fmt.Errorf("%w: constraint set needs at least one variable", ErrInvalidInput)
	}
	for k, c := range s.constraints {
		switch c.Kind {
		case KindBound:
			if c.Index < 0 || c.Index >= s.n {
				return fmt.Errorf("%w: constraint %d bound index %d out of range", ErrInvalidInput, k, c.Index)
			}
			if math.IsNaN(c.Low) || math.IsNaN(c.High) || c.Low > c.High {
				return fmt.Errorf("%w: constraint %d has bounds [%v, %v]", ErrInvalidInput, k, c.Low, c.High)
			}
			if math.IsInf(c.Low, 1) || math.IsInf(c.High, -1) {
				return fmt.Errorf("%w: constraint %d has empty bounds", ErrInvalidInput, k)
			}
		case KindEquality, KindInequality:
			if len(c.Coeffs) != s.n {
				return fmt.Errorf("%w: constraint %d has %d coefficients, expected %d", ErrInvalidInput, k, len(c.Coeffs), s.n)
			}
			if !allFinite(c.Coeffs) || math.IsNaN(c.RHS) || math.IsInf(c.RHS, 0) {
				return fmt.Errorf("%w: constraint %d has non-finite terms", ErrInvalidInput, k)
			}
			if floats.Norm(c.Coeffs, 2) == 0 {
				return fmt.Errorf("%w: constraint %d has all-zero coefficients", ErrInvalidInput, k)
			}
		default:
			return fmt.Errorf("%w: constraint %d has unknown kind %d", ErrInvalidInput, k, int(c.Kind))
		}
	}
	return nil
}

// LowerBounds intersects every bound constraint into a per-coordinate floor.
// Unbounded coordinates report -Inf.
func (s *ConstraintSet) LowerBounds() []float64 {
	lo := make([]float64, s.n)
	for i := range lo {
		lo[i] = math.Inf(-1)
	}
	for _, c := range s.constraints {
		if c.Kind == KindBound && c.Low > lo[c.Index] {
			lo[c.Index] = c.Low
		}
	}
	return lo
}

func (s *ConstraintSet) UpperBounds() []float64 {
	hi := make([]float64, s.n)
	for i := range hi {
		hi[i] = math.Inf(1)
	}
	for _, c := range s.constraints {
		if c.Kind == KindBound && c.High < hi[c.Index] {
			hi[c.Index] = c.High
		}
	}
	return hi
}

// Residuals returns one residual per constraint, in order.
func (s *ConstraintSet) Residuals(x []float64) []float64 {
	out := make([]float64, len(s.constraints))
	for k, c := range s.constraints {
		out[k] = c.Residual(x)
	}
	return out
}

// Violation returns the largest violation over all constraints.
func (s *ConstraintSet) Violation(x []float64) float64 {
	var worst float64
	for _, c := range s.constraints {
		if v := c.Violation(x); v > worst {
			worst = v
		}
	}
	return worst
}

// TotalViolation is the L1 sum of violations.
func (s *ConstraintSet) TotalViolation(x []float64) float64 {
	var total float64
	for _, c := range s.constraints {
		total += c.Violation(x)
	}
	return total
}

// Feasible reports whether every constraint holds within tol.
func (s *ConstraintSet) Feasible(x []float64, tol float64) bool {
	return len(x) == s.n && s.Violation(x) <= tol
}

// linearRows expands the set into equality rows a·x = b and inequality rows
// a·x >= b. Bounds become unit rows; infinite sides are dropped.
func (s *ConstraintSet) linearRows() (eq, ineq []linearRow) {
	for _, c := range s.constraints {
		switch c.Kind {
		case KindEquality:
			eq = append(eq, linearRow{a: c.Coeffs, b: c.RHS})
		case KindInequality:
			ineq = append(ineq, linearRow{a: c.Coeffs, b: c.RHS})
		case KindBound:
			if !math.IsInf(c.Low, -1) {
				a := make([]float64, s.n)
				a[c.Index] = 1
				ineq = append(ineq, linearRow{a: a, b: c.Low})
			}
			if !math.IsInf(c.High, 1) {
				a := make([]float64, s.n)
				a[c.Index] = -1
				ineq = append(ineq, linearRow{a: a, b: -c.High})
			}
		}
	}
	return eq, ineq
}

// linearRow is a·x (= or >=) b.
type linearRow struct {
	a []float64
	b float64
}

func allFinite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
