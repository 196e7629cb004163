package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Returns computes simple period returns r_t = v_t/v_{t-1} - 1.
// The result has one fewer element than values.
func Returns(values []float64) ([]float64, error) {
	if err := checkSeries(values); err != nil {
		return nil, err
	}
	out := make([]float64, len(values)-1)
	for t := 1; t < len(values); t++ {
		out[t-1] = values[t]/values[t-1] - 1
	}
	return out, nil
}

// LogReturns computes ln(v_t/v_{t-1}).
func LogReturns(values []float64) ([]float64, error) {
	if err := checkSeries(values); err != nil {
		return nil, err
	}
	out := make([]float64, len(values)-1)
	for t := 1; t < len(values); t++ {
		out[t-1] = math.Log(values[t] / values[t-1])
	}
	return out, nil
}

func checkSeries(values []float64) error {
	if len(values) < 2 {
		return fmt.Errorf("%w: need at least 2 values, got %d", ErrInvalidInput, len(values))
	}
	for t, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: value at %d is %v", ErrInvalidInput, t, v)
		}
	}
	return nil
}

// AssetReturns returns the (T-1)×N matrix of simple returns, one row per
// period. Prices are validated on construction so no error path remains.
func AssetReturns(prices *PriceMatrix) [][]float64 {
	rows := make([][]float64, prices.Rows()-1)
	for t := 1; t < prices.Rows(); t++ {
		rows[t-1] = make([]float64, prices.Cols())
		for i := 0; i < prices.Cols(); i++ {
			rows[t-1][i] = prices.At(t, i)/prices.At(t-1, i) - 1
		}
	}
	return rows
}

// ReturnStats summarizes per-asset return behaviour over a price window.
type ReturnStats struct {
	Symbols              []string
	Mean                 []float64
	StdDev               []float64
	AnnualizedReturn     []float64
	AnnualizedVolatility []float64
	// Covariance and Correlation are per-period sample estimates.
	Covariance  *mat.SymDense
	Correlation *mat.SymDense
}

// ComputeReturnStats derives means, sample deviations and the covariance
// structure of simple returns. With a single return observation the
// deviations and covariances are zero.
func ComputeReturnStats(prices *PriceMatrix, periodsPerYear int) (ReturnStats, error) {
	if prices == nil {
		return ReturnStats{}, fmt.Errorf("%w: nil price matrix", ErrInvalidInput)
	}
	if periodsPerYear <= 0 {
		return ReturnStats{}, fmt.Errorf("%w: periods per year must be positive", ErrInvalidInput)
	}
	if prices.Rows() < 2 {
		return ReturnStats{}, fmt.Errorf("%w: need at least 2 price rows", ErrInvalidInput)
	}

	rows := AssetReturns(prices)
	t, n := len(rows), prices.Cols()
	data := mat.NewDense(t, n, nil)
	for r, row := range rows {
		data.SetRow(r, row)
	}

	stats := ReturnStats{
		Symbols:              prices.Symbols(),
		Mean:                 make([]float64, n),
		StdDev:               make([]float64, n),
		AnnualizedReturn:     make([]float64, n),
		AnnualizedVolatility: make([]float64, n),
		Covariance:           mat.NewSymDense(n, nil),
		Correlation:          mat.NewSymDense(n, nil),
	}
	scale := math.Sqrt(float64(periodsPerYear))
	for i := 0; i < n; i++ {
		col := mat.Col(nil, i, data)
		stats.Mean[i] = stat.Mean(col, nil)
		stats.StdDev[i] = sampleStdDev(col)
		stats.AnnualizedReturn[i] = stats.Mean[i] * float64(periodsPerYear)
		stats.AnnualizedVolatility[i] = stats.StdDev[i] * scale
	}

	if t >= 2 {
		stat.CovarianceMatrix(stats.Covariance, data, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				si, sj := stats.StdDev[i], stats.StdDev[j]
				if si == 0 || sj == 0 {
					if i == j {
						stats.Correlation.SetSym(i, j, 1)
					}
					continue
				}
				stats.Correlation.SetSym(i, j, stats.Covariance.At(i, j)/(si*sj))
			}
		}
	} else {
		for i := 0; i < n; i++ {
			stats.Correlation.SetSym(i, i, 1)
		}
	}
	return stats, nil
}

// DailyRiskFreeRate converts an annual rate into a per-period rate by
// geometric de-annualization.
func DailyRiskFreeRate(annual float64, periodsPerYear int) float64 {
	if annual == 0 || periodsPerYear <= 0 {
		return 0
	}
	return math.Pow(1+annual, 1/float64(periodsPerYear)) - 1
}

// sampleStdDev is the ddof=1 deviation, zero for fewer than two samples.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
