package prices

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
)

var csvDateLayouts = []string{dateLayout, "2006-01-02 15:04:05", time.RFC3339}

// ImportCSV loads a Date,...,Adj Close file for symbol and stores it. The
// Close column is used when Adj Close is absent. Rows whose price is empty,
// "null" or non-positive are skipped. Returns the number of stored rows.
func (h *HistoryStore) ImportCSV(ctx context.Context, symbol string, r io.Reader) (int, error) {
	prices, err := ParseCSV(r)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: no usable rows for %s", optimization.ErrInvalidInput, symbol)
	}
	if err := h.UpsertPrices(ctx, symbol, prices); err != nil {
		return 0, err
	}
	return len(prices), nil
}

// ParseCSV reads daily prices from a CSV stream with a header row.
func ParseCSV(r io.Reader) ([]DailyPrice, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty CSV", optimization.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", optimization.ErrInvalidInput, err)
	}

	dateCol, priceCol := -1, -1
	closeCol := -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "date":
			dateCol = i
		case "adj close", "adj_close", "adjclose":
			priceCol = i
		case "close":
			closeCol = i
		}
	}
	if priceCol < 0 {
		priceCol = closeCol
	}
	if dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("%w: CSV needs Date and Adj Close (or Close) columns", optimization.ErrInvalidInput)
	}

	var prices []DailyPrice
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", optimization.ErrInvalidInput, line, err)
		}
		if dateCol >= len(record) || priceCol >= len(record) {
			continue
		}

		raw := strings.TrimSpace(record[priceCol])
		if raw == "" || strings.EqualFold(raw, "null") {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(value > 0) || math.IsInf(value, 1) {
			continue
		}

		date, err := parseDate(strings.TrimSpace(record[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", optimization.ErrInvalidInput, line, err)
		}
		prices = append(prices, DailyPrice{Date: date, AdjClose: value})
	}
	return prices, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dayStart(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
