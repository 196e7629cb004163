package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FrontierPoint is one long-only minimum-variance portfolio. Return and
// Volatility are annualized.
type FrontierPoint struct {
	TargetReturn float64   `json:"target_return"`
	Return       float64   `json:"return"`
	Volatility   float64   `json:"volatility"`
	SharpeRatio  float64   `json:"sharpe_ratio"`
	Weights      []float64 `json:"weights"`
	Converged    bool      `json:"converged"`
}

// MinVarianceObjective is wᵀΣw with analytic gradient 2Σw.
type MinVarianceObjective struct {
	cov *mat.SymDense
}

func NewMinVarianceObjective(cov *mat.SymDense) *MinVarianceObjective {
	return &MinVarianceObjective{cov: cov}
}

func (o *MinVarianceObjective) Evaluate(w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, o.cov, v)
}

func (o *MinVarianceObjective) Gradient(dst, w []float64) {
	out := mat.NewVecDense(len(dst), dst)
	out.MulVec(o.cov, mat.NewVecDense(len(w), w))
	out.ScaleVec(2, out)
}

// FrontierBuilder traces the efficient frontier by solving one
// minimum-variance problem per target return.
type FrontierBuilder struct {
	solver         Solver
	workers        int
	riskFreeRate   float64
	periodsPerYear int
	log            zerolog.Logger
}

func NewFrontierBuilder(solver Solver, workers int, riskFreeRate float64, periodsPerYear int, log zerolog.Logger) *FrontierBuilder {
	if workers < 1 {
		workers = 1
	}
	return &FrontierBuilder{
		solver:         solver,
		workers:        workers,
		riskFreeRate:   riskFreeRate,
		periodsPerYear: periodsPerYear,
		log:            log.With().Str("component", "frontier").Logger(),
	}
}

// Build returns up to points portfolios with evenly spaced target returns
// between the minimum-variance portfolio's return and the best single
// asset's return. Targets the solver cannot reach are skipped.
func (b *FrontierBuilder) Build(ctx context.Context, prices *PriceMatrix, points int) ([]FrontierPoint, error) {
	if points < 1 {
		return nil, fmt.Errorf("%w: frontier needs at least one point", ErrInvalidInput)
	}
	stats, err := ComputeReturnStats(prices, b.periodsPerYear)
	if err != nil {
		return nil, err
	}
	n := prices.Cols()
	mu := stats.AnnualizedReturn
	cov := mat.NewSymDense(n, nil)
	cov.ScaleSym(float64(b.periodsPerYear), stats.Covariance)
	objective := NewMinVarianceObjective(cov)

	budget := NewBudgetConstraints(n, FormulationBounds)
	minVar, err := b.solver.Optimize(UniformWeights(n), objective, budget)
	if err != nil {
		return nil, fmt.Errorf("minimum variance portfolio: %w", err)
	}
	low := floats.Dot(mu, minVar.Weights)
	high := mu[0]
	for _, m := range mu[1:] {
		high = math.Max(high, m)
	}

	if points == 1 || high-low < 1e-12 {
		return []FrontierPoint{b.point(low, minVar, mu, cov)}, nil
	}

	results := make([]*FrontierPoint, points)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for k := 0; k < points; k++ {
		target := low + (high-low)*float64(k)/float64(points-1)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if k == 0 {
				p := b.point(target, minVar, mu, cov)
				results[k] = &p
				return nil
			}
			res, err := b.solver.Optimize(UniformWeights(n), objective, budget.With(Equality(mu, target)))
			if errors.Is(err, ErrInfeasible) {
				b.log.Debug().Float64("target_return", target).Msg("Skipping unreachable frontier target")
				return nil
			}
			if err != nil {
				return fmt.Errorf("frontier target %.6f: %w", target, err)
			}
			p := b.point(target, res, mu, cov)
			results[k] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	frontier := make([]FrontierPoint, 0, points)
	for _, p := range results {
		if p != nil {
			frontier = append(frontier, *p)
		}
	}
	return frontier, nil
}

func (b *FrontierBuilder) point(target float64, res OptimizationResult, mu []float64, cov *mat.SymDense) FrontierPoint {
	w := res.Weights
	ret := floats.Dot(mu, w)
	v := mat.NewVecDense(len(w), w)
	vol := math.Sqrt(math.Max(0, mat.Inner(v, cov, v)))
	var sharpe float64
	if vol > 0 {
		sharpe = (ret - b.riskFreeRate) / vol
	}
	return FrontierPoint{
		TargetReturn: target,
		Return:       ret,
		Volatility:   vol,
		SharpeRatio:  sharpe,
		Weights:      append([]float64(nil), w...),
		Converged:    res.Converged,
	}
}
