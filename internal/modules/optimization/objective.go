package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// zeroVolatilityTolerance is the relative threshold below which a return
// series is treated as having no volatility.
const zeroVolatilityTolerance = 1e-14

// Objective is a scalar function to be minimized over a weight vector.
// Evaluate returns +Inf for points where the function is undefined.
type Objective interface {
	Evaluate(x []float64) float64
}

// GradientObjective is implemented by objectives with an analytic gradient.
// Solvers fall back to central differences otherwise.
type GradientObjective interface {
	Objective
	Gradient(dst, x []float64)
}

// SharpeObjective evaluates the negated annualized Sharpe ratio of a
// buy-and-hold portfolio over a fixed price window.
type SharpeObjective struct {
	normalized     *PriceMatrix
	dailyRiskFree  float64
	periodsPerYear int
}

// NewSharpeObjective precomputes normalized prices. riskFreeRate is annual.
func NewSharpeObjective(prices *PriceMatrix, riskFreeRate float64, periodsPerYear int) (*SharpeObjective, error) {
	if prices == nil {
		return nil, fmt.Errorf("%w: nil price matrix", ErrInvalidInput)
	}
	if prices.Rows() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 price rows, got %d", ErrInvalidInput, prices.Rows())
	}
	if periodsPerYear <= 0 {
		return nil, fmt.Errorf("%w: periods per year must be positive", ErrInvalidInput)
	}
	if math.IsNaN(riskFreeRate) || math.IsInf(riskFreeRate, 0) || riskFreeRate <= -1 {
		return nil, fmt.Errorf("%w: risk-free rate %v", ErrInvalidInput, riskFreeRate)
	}
	return &SharpeObjective{
		normalized:     prices.Normalize(),
		dailyRiskFree:  DailyRiskFreeRate(riskFreeRate, periodsPerYear),
		periodsPerYear: periodsPerYear,
	}, nil
}

// Dim returns the number of assets.
func (o *SharpeObjective) Dim() int { return o.normalized.Cols() }

func (o *SharpeObjective) Evaluate(w []float64) float64 {
	if len(w) != o.normalized.Cols() {
		return math.Inf(1)
	}
	values := weightedValues(o.normalized, w)
	for _, v := range values {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
	}
	returns := make([]float64, len(values)-1)
	for t := 1; t < len(values); t++ {
		returns[t-1] = values[t]/values[t-1] - 1
	}
	return -annualizedSharpe(returns, o.dailyRiskFree, o.periodsPerYear)
}

// weightedValues returns Σ_i w_i·prices[t][i] for every row.
func weightedValues(prices *PriceMatrix, w []float64) []float64 {
	values := make([]float64, prices.Rows())
	for t := range values {
		var v float64
		for i, wi := range w {
			v += wi * prices.At(t, i)
		}
		values[t] = v
	}
	return values
}

// annualizedSharpe returns √P·mean(r-rf)/std(r), or 0 when the series has
// fewer than two returns or no measurable volatility.
func annualizedSharpe(returns []float64, dailyRiskFree float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	sd := stat.StdDev(returns, nil)
	if !(sd > zeroVolatilityTolerance*math.Max(1, math.Abs(mean))) {
		return 0
	}
	return math.Sqrt(float64(periodsPerYear)) * (mean - dailyRiskFree) / sd
}
