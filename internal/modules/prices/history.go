// Package prices stores daily adjusted close prices and serves them as
// aligned price matrices for the optimizer.
package prices

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/rs/zerolog"
)

// DailyPrice is one adjusted close observation.
type DailyPrice struct {
	Date     time.Time `json:"date"`
	AdjClose float64   `json:"adj_close"`
}

// HistoryStore provides access to the daily_prices table of the history
// database.
type HistoryStore struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewHistoryStore creates a new history store accessor
func NewHistoryStore(db *sql.DB, log zerolog.Logger) *HistoryStore {
	return &HistoryStore{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
		now: time.Now,
	}
}

// UpsertPrices inserts or replaces the given observations for symbol in a
// single transaction. Dates are truncated to midnight UTC.
func (h *HistoryStore) UpsertPrices(ctx context.Context, symbol string, prices []DailyPrice) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return fmt.Errorf("%w: blank symbol", optimization.ErrInvalidInput)
	}
	for _, p := range prices {
		if !(p.AdjClose > 0) || math.IsInf(p.AdjClose, 1) {
			return fmt.Errorf("%w: non-positive price %v for %s on %s",
				optimization.ErrInvalidInput, p.AdjClose, symbol, p.Date.Format(dateLayout))
		}
	}

	updatedAt := h.now().Unix()
	err := database.WithTransaction(ctx, h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO daily_prices (symbol, date, adj_close, updated_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			if _, err := stmt.ExecContext(ctx, symbol, dayStart(p.Date).Unix(), p.AdjClose, updatedAt); err != nil {
				return fmt.Errorf("failed to insert daily price for %s: %w", p.Date.Format(dateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.log.Info().
		Str("symbol", symbol).
		Int("count", len(prices)).
		Msg("Stored daily prices")
	return nil
}

// GetDailyPrices returns the observations for symbol within the inclusive
// date range, oldest first.
func (h *HistoryStore) GetDailyPrices(ctx context.Context, symbol string, start, end time.Time) ([]DailyPrice, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT date, adj_close
		FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, dayStart(start).Unix(), dayStart(end).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var dateUnix int64
		var p DailyPrice
		if err := rows.Scan(&dateUnix, &p.AdjClose); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		p.Date = time.Unix(dateUnix, 0).UTC()
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}
	return prices, nil
}

// Symbols lists every symbol with stored history.
func (h *HistoryStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT DISTINCT symbol FROM daily_prices ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// FetchPrices aligns the symbols on the trading days they all share inside
// [start, end]. A symbol with no rows, or fewer than two common days, is
// reported as ErrInsufficientData.
func (h *HistoryStore) FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*optimization.PriceMatrix, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols requested", optimization.ErrInvalidInput)
	}

	series := make([]map[int64]float64, len(symbols))
	for i, symbol := range symbols {
		daily, err := h.GetDailyPrices(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		if len(daily) == 0 {
			return nil, fmt.Errorf("%w: no prices for %s between %s and %s", optimization.ErrInsufficientData,
				symbol, start.Format(dateLayout), end.Format(dateLayout))
		}
		series[i] = make(map[int64]float64, len(daily))
		for _, p := range daily {
			series[i][p.Date.Unix()] = p.AdjClose
		}
	}

	var common []int64
	for day := range series[0] {
		shared := true
		for _, s := range series[1:] {
			if _, ok := s[day]; !ok {
				shared = false
				break
			}
		}
		if shared {
			common = append(common, day)
		}
	}
	if len(common) < 2 {
		return nil, fmt.Errorf("%w: only %d common trading days for %s", optimization.ErrInsufficientData,
			len(common), strings.Join(symbols, ","))
	}
	sort.Slice(common, func(a, b int) bool { return common[a] < common[b] })

	dates := make([]time.Time, len(common))
	rows := make([][]float64, len(common))
	for t, day := range common {
		dates[t] = time.Unix(day, 0).UTC()
		rows[t] = make([]float64, len(symbols))
		for i := range symbols {
			rows[t][i] = series[i][day]
		}
	}

	h.log.Debug().
		Strs("symbols", symbols).
		Int("days", len(common)).
		Msg("Aligned price history")

	return optimization.NewPriceMatrix(symbols, dates, rows)
}

const dateLayout = "2006-01-02"

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
