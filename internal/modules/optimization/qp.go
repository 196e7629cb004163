package optimization

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	qpActiveTolerance     = 1e-10
	qpStepTolerance       = 1e-12
	qpMultiplierTolerance = 1e-12
	qpIndependenceTol     = 1e-10
)

var errQPIterations = errors.New("quadratic subproblem iteration limit reached")

// qpProblem is min ½dᵀHd + cᵀd subject to eq rows a·d = b and ineq rows
// a·d >= b. H must be positive definite and d = 0 must satisfy every row up
// to rounding.
type qpProblem struct {
	h    *mat.SymDense
	c    []float64
	eq   []linearRow
	ineq []linearRow
}

type qpSolution struct {
	d          []float64
	lambdaEq   []float64
	lambdaIneq []float64
	iterations int
}

// solveQP runs a primal active-set method starting from d = 0. Each
// iteration solves the equality-constrained subproblem on the working set
// through its KKT system, then either takes a step to the nearest blocking
// constraint or drops the working constraint with the most negative
// multiplier.
func solveQP(p qpProblem) (qpSolution, error) {
	n := len(p.c)
	d := make([]float64, n)

	// Dependent equality rows would make the KKT matrix singular.
	var basis [][]float64
	var eqRows []int
	for k, row := range p.eq {
		if extendBasis(&basis, row.a) {
			eqRows = append(eqRows, k)
		}
	}

	working := make([]bool, len(p.ineq))
	var active []int
	for k, row := range p.ineq {
		if floats.Dot(row.a, d)-row.b <= qpActiveTolerance && extendBasis(&basis, row.a) {
			working[k] = true
			active = append(active, k)
		}
	}

	maxIter := 3*(n+len(p.eq)+len(p.ineq)) + 20
	gq := make([]float64, n)
	hd := mat.NewVecDense(n, nil)
	for iter := 1; iter <= maxIter; iter++ {
		hd.MulVec(p.h, mat.NewVecDense(n, d))
		floats.AddTo(gq, hd.RawVector().Data, p.c)

		rows := make([][]float64, 0, len(eqRows)+len(active))
		for _, k := range eqRows {
			rows = append(rows, p.eq[k].a)
		}
		for _, k := range active {
			rows = append(rows, p.ineq[k].a)
		}
		step, lambda, err := solveKKT(p.h, rows, gq)
		if err != nil {
			return qpSolution{}, err
		}

		if floats.Norm(step, math.Inf(1)) <= qpStepTolerance*(1+floats.Norm(d, math.Inf(1))) {
			drop, worst := -1, -qpMultiplierTolerance
			for j := range active {
				if l := lambda[len(eqRows)+j]; l < worst {
					drop, worst = j, l
				}
			}
			if drop < 0 {
				sol := qpSolution{
					d:          d,
					lambdaEq:   make([]float64, len(p.eq)),
					lambdaIneq: make([]float64, len(p.ineq)),
					iterations: iter,
				}
				for j, k := range eqRows {
					sol.lambdaEq[k] = lambda[j]
				}
				for j, k := range active {
					sol.lambdaIneq[k] = lambda[len(eqRows)+j]
				}
				return sol, nil
			}
			working[active[drop]] = false
			active = append(active[:drop], active[drop+1:]...)
			continue
		}

		alpha, blocking := 1.0, -1
		for k, row := range p.ineq {
			if working[k] {
				continue
			}
			ap := floats.Dot(row.a, step)
			if ap >= -qpStepTolerance {
				continue
			}
			ratio := math.Max(0, (floats.Dot(row.a, d)-row.b)/-ap)
			if ratio < alpha {
				alpha, blocking = ratio, k
			}
		}
		floats.AddScaled(d, alpha, step)
		if blocking >= 0 {
			working[blocking] = true
			active = append(active, blocking)
		}
	}
	return qpSolution{}, errQPIterations
}

// solveKKT solves [[H, -Aᵀ], [A, 0]]·[p; λ] = [-g; 0].
func solveKKT(h *mat.SymDense, rows [][]float64, g []float64) (step, lambda []float64, err error) {
	n, m := len(g), len(rows)
	kkt := mat.NewDense(n+m, n+m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			kkt.Set(i, j, h.At(i, j))
		}
	}
	for r, a := range rows {
		for j, v := range a {
			kkt.Set(n+r, j, v)
			kkt.Set(j, n+r, -v)
		}
	}
	rhs := mat.NewVecDense(n+m, nil)
	for i, v := range g {
		rhs.SetVec(i, -v)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, nil, fmt.Errorf("KKT system: %w", err)
		}
	}
	raw := sol.RawVector().Data
	step = append([]float64(nil), raw[:n]...)
	lambda = append([]float64(nil), raw[n:]...)
	if !allFinite(step) || !allFinite(lambda) {
		return nil, nil, fmt.Errorf("KKT system produced non-finite solution")
	}
	return step, lambda, nil
}

// extendBasis adds a to the orthonormal basis when it is linearly
// independent of the rows already present.
func extendBasis(basis *[][]float64, a []float64) bool {
	v := append([]float64(nil), a...)
	for _, q := range *basis {
		floats.AddScaled(v, -floats.Dot(q, v), q)
	}
	norm := floats.Norm(v, 2)
	if norm <= qpIndependenceTol*math.Max(1, floats.Norm(a, 2)) {
		return false
	}
	floats.Scale(1/norm, v)
	*basis = append(*basis, v)
	return true
}
