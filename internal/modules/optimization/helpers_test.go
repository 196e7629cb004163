package optimization

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pricesFromReturns compounds per-asset return columns from 100.
func pricesFromReturns(t *testing.T, symbols []string, columns ...[]float64) *PriceMatrix {
	t.Helper()
	rows := make([][]float64, len(columns[0])+1)
	rows[0] = make([]float64, len(columns))
	for i := range columns {
		rows[0][i] = 100
	}
	for k := 1; k < len(rows); k++ {
		rows[k] = make([]float64, len(columns))
		for i, col := range columns {
			rows[k][i] = rows[k-1][i] * (1 + col[k-1])
		}
	}
	dates := make([]time.Time, len(rows))
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for k := range dates {
		dates[k] = base.AddDate(0, 0, k)
	}
	m, err := NewPriceMatrix(symbols, dates, rows)
	require.NoError(t, err)
	return m
}

func repeat(pattern []float64, times int) []float64 {
	out := make([]float64, 0, len(pattern)*times)
	for i := 0; i < times; i++ {
		out = append(out, pattern...)
	}
	return out
}

// twoAssetScenario has B with the higher Sharpe ratio and negative
// correlation between the assets; the tangency portfolio holds about 77% B.
func twoAssetScenario(t *testing.T) *PriceMatrix {
	return pricesFromReturns(t, []string{"A", "B"},
		repeat([]float64{0.01, 0.02, -0.01, 0.03}, 5),
		repeat([]float64{0, 0.01, 0.01, 0}, 5),
	)
}

// symmetricScenario has two uncorrelated assets with identical mean and
// volatility.
func symmetricScenario(t *testing.T) *PriceMatrix {
	const m, s = 0.001, 0.01
	a := repeat([]float64{m + s, m - s}, 20)
	b := repeat([]float64{m + s, m + s, m - s, m - s}, 10)
	return pricesFromReturns(t, []string{"A", "B"}, a, b)
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func requireLongOnly(t *testing.T, w []float64) {
	t.Helper()
	require.InDelta(t, 1.0, sum(w), 1e-6, "weights should sum to 1")
	for i, v := range w {
		require.False(t, math.IsNaN(v), "weight %d is NaN", i)
		require.GreaterOrEqual(t, v, -1e-6, "weight %d should be non-negative", i)
		require.LessOrEqual(t, v, 1+1e-6, "weight %d should be <= 1", i)
	}
}
