package optimization

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceMatrix_Validation(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2021, 3, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		symbols []string
		dates   []time.Time
		rows    [][]float64
	}{
		{"no symbols", nil, nil, [][]float64{{1}, {2}}},
		{"no rows", []string{"A"}, nil, nil},
		{"single row", []string{"A"}, nil, [][]float64{{1}}},
		{"single row with date", []string{"A"}, []time.Time{day(1)}, [][]float64{{1}}},
		{"blank symbol", []string{" "}, nil, [][]float64{{1}, {2}}},
		{"duplicate symbol", []string{"A", "A"}, nil, [][]float64{{1, 2}, {1, 2}}},
		{"ragged row", []string{"A", "B"}, nil, [][]float64{{1, 2}, {3}}},
		{"zero price", []string{"A"}, nil, [][]float64{{1}, {0}}},
		{"negative price", []string{"A"}, nil, [][]float64{{-1}, {1}}},
		{"nan price", []string{"A"}, nil, [][]float64{{math.NaN()}, {1}}},
		{"inf price", []string{"A"}, nil, [][]float64{{1}, {math.Inf(1)}}},
		{"date count mismatch", []string{"A"}, []time.Time{day(1)}, [][]float64{{1}, {2}}},
		{"dates not increasing", []string{"A"}, []time.Time{day(2), day(2)}, [][]float64{{1}, {2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPriceMatrix(tt.symbols, tt.dates, tt.rows)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestPriceMatrix_CopiesInputs(t *testing.T) {
	symbols := []string{"A", "B"}
	rows := [][]float64{{10, 20}, {11, 19}}
	m, err := NewPriceMatrix(symbols, nil, rows)
	require.NoError(t, err)

	rows[0][0] = 999
	symbols[0] = "Z"
	assert.Equal(t, 10.0, m.At(0, 0))
	assert.Equal(t, []string{"A", "B"}, m.Symbols())
	assert.Nil(t, m.Dates())

	row := m.Row(1)
	row[0] = 0
	assert.Equal(t, 11.0, m.At(1, 0))
	assert.Equal(t, []float64{20, 19}, m.Column(1))
	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 2, m.Cols())
}

func TestPriceMatrix_Normalize(t *testing.T) {
	m, err := NewPriceMatrix([]string{"A", "B"}, nil, [][]float64{{50, 4}, {100, 5}, {25, 2}})
	require.NoError(t, err)

	n := m.Normalize()
	assert.Equal(t, []float64{1, 1}, n.Row(0))
	assert.Equal(t, []float64{2, 1.25}, n.Row(1))
	assert.Equal(t, []float64{0.5, 0.5}, n.Row(2))
	assert.Equal(t, 50.0, m.At(0, 0), "original must be untouched")
}

func TestPriceMatrix_Select(t *testing.T) {
	m, err := NewPriceMatrix([]string{"A", "B", "C"}, nil, [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	sel, err := m.Select([]string{"C", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A"}, sel.Symbols())
	assert.Equal(t, []float64{6, 4}, sel.Row(1))

	_, err = m.Select([]string{"D"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
