package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// MetricsReport describes a buy-and-hold portfolio over a price window.
// AverageDailyReturn and DailyVolatility are per period; SharpeRatio is
// annualized.
type MetricsReport struct {
	CumulativeReturn   float64 `json:"cumulative_return"`
	AverageDailyReturn float64 `json:"average_daily_return"`
	DailyVolatility    float64 `json:"daily_volatility"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
}

// PortfolioValues returns the value series of a portfolio holding weights
// of normalized prices, starting at Σw.
func PortfolioValues(prices *PriceMatrix, weights []float64) ([]float64, error) {
	if prices == nil {
		return nil, fmt.Errorf("%w: nil price matrix", ErrInvalidInput)
	}
	if len(weights) != prices.Cols() {
		return nil, fmt.Errorf("%w: %d weights for %d assets", ErrInvalidInput, len(weights), prices.Cols())
	}
	if !allFinite(weights) {
		return nil, fmt.Errorf("%w: weights are not finite", ErrInvalidInput)
	}
	return weightedValues(prices.Normalize(), weights), nil
}

// Summarize computes cumulative return, mean and sample deviation of
// period returns, and the annualized Sharpe ratio.
func Summarize(weights []float64, prices *PriceMatrix, riskFreeRate float64, periodsPerYear int) (MetricsReport, error) {
	if periodsPerYear <= 0 {
		return MetricsReport{}, fmt.Errorf("%w: periods per year must be positive", ErrInvalidInput)
	}
	values, err := PortfolioValues(prices, weights)
	if err != nil {
		return MetricsReport{}, err
	}
	if len(values) < 2 {
		return MetricsReport{}, fmt.Errorf("%w: need at least 2 price rows", ErrInvalidInput)
	}
	for t, v := range values {
		if !(v > 0) || math.IsInf(v, 0) {
			return MetricsReport{}, fmt.Errorf("%w: portfolio value at row %d is %v", ErrInvalidInput, t, v)
		}
	}
	returns, err := Returns(values)
	if err != nil {
		return MetricsReport{}, err
	}
	return MetricsReport{
		CumulativeReturn:   values[len(values)-1]/values[0] - 1,
		AverageDailyReturn: stat.Mean(returns, nil),
		DailyVolatility:    sampleStdDev(returns),
		SharpeRatio:        annualizedSharpe(returns, DailyRiskFreeRate(riskFreeRate, periodsPerYear), periodsPerYear),
	}, nil
}
