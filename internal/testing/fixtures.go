package testing

import (
	"testing"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
)

// FixtureStart is the first date of every generated price fixture.
var FixtureStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewPriceFixture compounds the given per-period return columns from a
// price of 100, one row per calendar day starting at FixtureStart.
func NewPriceFixture(t *testing.T, symbols []string, columns ...[]float64) *optimization.PriceMatrix {
	t.Helper()
	if len(columns) != len(symbols) || len(columns) == 0 {
		t.Fatalf("need one return column per symbol, got %d columns for %d symbols", len(columns), len(symbols))
	}

	rows := make([][]float64, len(columns[0])+1)
	dates := make([]time.Time, len(rows))
	for k := range rows {
		rows[k] = make([]float64, len(columns))
		dates[k] = FixtureStart.AddDate(0, 0, k)
		for i, col := range columns {
			if k == 0 {
				rows[k][i] = 100
				continue
			}
			rows[k][i] = rows[k-1][i] * (1 + col[k-1])
		}
	}

	m, err := optimization.NewPriceMatrix(symbols, dates, rows)
	if err != nil {
		t.Fatalf("Failed to build price fixture: %v", err)
	}
	return m
}

// Repeat concatenates pattern times times.
func Repeat(pattern []float64, times int) []float64 {
	out := make([]float64, 0, len(pattern)*times)
	for i := 0; i < times; i++ {
		out = append(out, pattern...)
	}
	return out
}

// NewTwoAssetFixture returns the AAA/BBB pair where BBB has the better
// Sharpe ratio and the assets are negatively correlated. The maximum-Sharpe
// portfolio holds roughly 23% AAA and 77% BBB.
func NewTwoAssetFixture(t *testing.T) *optimization.PriceMatrix {
	return NewPriceFixture(t, []string{"AAA", "BBB"},
		Repeat([]float64{0.01, 0.02, -0.01, 0.03}, 5),
		Repeat([]float64{0, 0.01, 0.01, 0}, 5),
	)
}
