package optimization

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PriceMatrix holds T observations of N assets, rows ordered oldest first.
// T is at least 2 and every entry is finite and strictly positive. A matrix is immutable once
// constructed; accessors return copies.
type PriceMatrix struct {
	symbols []string
	dates   []time.Time
	values  [][]float64
}

// NewPriceMatrix validates and copies the given rows. dates may be nil for
// synthetic series; when present it must have one strictly increasing entry
// per row.
func NewPriceMatrix(symbols []string, dates []time.Time, rows [][]float64) (*PriceMatrix, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: price matrix needs at least one symbol", ErrInvalidInput)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: price matrix needs at least 2 rows, got %d", ErrInvalidInput, len(rows))
	}
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: blank symbol", ErrInvalidInput)
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %s", ErrInvalidInput, s)
		}
		seen[s] = struct{}{}
	}
	if dates != nil {
		if len(dates) != len(rows) {
			return nil, fmt.Errorf("%w: %d dates for %d rows", ErrInvalidInput, len(dates), len(rows))
		}
		for t := 1; t < len(dates); t++ {
			if !dates[t].After(dates[t-1]) {
				return nil, fmt.Errorf("%w: dates not strictly increasing at row %d", ErrInvalidInput, t)
			}
		}
	}

	n := len(symbols)
	values := make([][]float64, len(rows))
	for t, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrInvalidInput, t, len(row), n)
		}
		for i, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return nil, fmt.Errorf("%w: price for %s at row %d is %v", ErrInvalidInput, symbols[i], t, v)
			}
		}
		values[t] = append([]float64(nil), row...)
	}

	m := &PriceMatrix{
		symbols: append([]string(nil), symbols...),
		values:  values,
	}
	if dates != nil {
		m.dates = append([]time.Time(nil), dates...)
	}
	return m, nil
}

// Rows returns the number of observations.
func (m *PriceMatrix) Rows() int { return len(m.values) }

// Cols returns the number of assets.
func (m *PriceMatrix) Cols() int { return len(m.symbols) }

func (m *PriceMatrix) Symbols() []string {
	return append([]string(nil), m.symbols...)
}

// Dates returns nil for synthetic matrices built without dates.
func (m *PriceMatrix) Dates() []time.Time {
	if m.dates == nil {
		return nil
	}
	return append([]time.Time(nil), m.dates...)
}

func (m *PriceMatrix) At(t, i int) float64 { return m.values[t][i] }

// Row returns a copy of observation t.
func (m *PriceMatrix) Row(t int) []float64 {
	return append([]float64(nil), m.values[t]...)
}

// Column returns the full series of asset i.
func (m *PriceMatrix) Column(i int) []float64 {
	col := make([]float64, len(m.values))
	for t := range m.values {
		col[t] = m.values[t][i]
	}
	return col
}

// Normalize divides every column by its first observation so each asset
// starts at 1.0.
func (m *PriceMatrix) Normalize() *PriceMatrix {
	first := m.values[0]
	values := make([][]float64, len(m.values))
	for t, row := range m.values {
		values[t] = make([]float64, len(row))
		for i, v := range row {
			values[t][i] = v / first[i]
		}
	}
	return &PriceMatrix{symbols: m.symbols, dates: m.dates, values: values}
}

// Select returns a matrix restricted to symbols, in the given order.
func (m *PriceMatrix) Select(symbols []string) (*PriceMatrix, error) {
	index := make(map[string]int, len(m.symbols))
	for i, s := range m.symbols {
		index[s] = i
	}
	cols := make([]int, len(symbols))
	for k, s := range symbols {
		i, ok := index[s]
		if !ok {
			return nil, fmt.Errorf("%w: symbol %s not in price matrix", ErrInvalidInput, s)
		}
		cols[k] = i
	}
	rows := make([][]float64, len(m.values))
	for t, row := range m.values {
		rows[t] = make([]float64, len(cols))
		for k, i := range cols {
			rows[t][k] = row[i]
		}
	}
	return NewPriceMatrix(symbols, m.dates, rows)
}
