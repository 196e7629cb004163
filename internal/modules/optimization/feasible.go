package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	feasibilityTolerance = 1e-10
	maxProjectionCycles  = 10000
)

// ProjectFeasible returns the point of the constraint set nearest to x,
// found by Dykstra's alternating projections over the equality hyperplanes,
// the inequality half-spaces and the bound box. x itself is not modified.
func ProjectFeasible(x []float64, constraints *ConstraintSet) ([]float64, error) {
	if len(x) != constraints.Dim() {
		return nil, fmt.Errorf("%w: point has %d coordinates, expected %d", ErrInvalidInput, len(x), constraints.Dim())
	}
	y := append([]float64(nil), x...)
	lo, hi := constraints.LowerBounds(), constraints.UpperBounds()
	clip(y, lo, hi)
	if constraints.Violation(y) <= feasibilityTolerance {
		return y, nil
	}

	var sets []linearRow
	var isEq []bool
	for _, c := range constraints.constraints {
		switch c.Kind {
		case KindEquality:
			sets = append(sets, linearRow{a: c.Coeffs, b: c.RHS})
			isEq = append(isEq, true)
		case KindInequality:
			sets = append(sets, linearRow{a: c.Coeffs, b: c.RHS})
			isEq = append(isEq, false)
		}
	}

	n := len(y)
	corrections := make([][]float64, len(sets)+1)
	for k := range corrections {
		corrections[k] = make([]float64, n)
	}
	z := make([]float64, n)
	for cycle := 0; cycle < maxProjectionCycles; cycle++ {
		for k, row := range sets {
			floats.AddTo(z, y, corrections[k])
			projectRow(y, z, row, isEq[k])
			floats.SubTo(corrections[k], z, y)
		}
		box := corrections[len(sets)]
		floats.AddTo(z, y, box)
		copy(y, z)
		clip(y, lo, hi)
		floats.SubTo(box, z, y)

		if constraints.Violation(y) <= feasibilityTolerance {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w: no feasible point found (violation %.3g)", ErrInfeasible, constraints.Violation(y))
}

// projectRow writes into dst the projection of z onto {a·x = b} or {a·x >= b}.
func projectRow(dst, z []float64, row linearRow, equality bool) {
	copy(dst, z)
	r := floats.Dot(row.a, z) - row.b
	if !equality && r >= 0 {
		return
	}
	floats.AddScaled(dst, -r/floats.Dot(row.a, row.a), row.a)
}

func clip(x, lo, hi []float64) {
	for i := range x {
		x[i] = math.Max(lo[i], math.Min(hi[i], x[i]))
	}
}
