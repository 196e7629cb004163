package prices

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func setupHistoryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE daily_prices (
			symbol TEXT NOT NULL,
			date INTEGER NOT NULL,
			adj_close REAL NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, date)
		)
	`)
	require.NoError(t, err)
	return db
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestHistoryStore_UpsertAndGet(t *testing.T) {
	store := NewHistoryStore(setupHistoryDB(t), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.UpsertPrices(ctx, "AAA", []DailyPrice{
		{Date: day(2), AdjClose: 101},
		{Date: day(1).Add(15 * time.Hour), AdjClose: 100},
		{Date: day(3), AdjClose: 102},
	}))
	// replacing an existing day keeps one row
	require.NoError(t, store.UpsertPrices(ctx, "AAA", []DailyPrice{{Date: day(3), AdjClose: 103}}))

	got, err := store.GetDailyPrices(ctx, "AAA", day(1), day(3))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, day(1), got[0].Date)
	assert.Equal(t, 100.0, got[0].AdjClose)
	assert.Equal(t, 103.0, got[2].AdjClose)

	got, err = store.GetDailyPrices(ctx, "AAA", day(2), day(2))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 101.0, got[0].AdjClose)

	symbols, err := store.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, symbols)
}

func TestHistoryStore_UpsertRejectsInvalid(t *testing.T) {
	store := NewHistoryStore(setupHistoryDB(t), zerolog.Nop())
	ctx := context.Background()

	err := store.UpsertPrices(ctx, " ", []DailyPrice{{Date: day(1), AdjClose: 1}})
	assert.ErrorIs(t, err, optimization.ErrInvalidInput)

	err = store.UpsertPrices(ctx, "AAA", []DailyPrice{{Date: day(1), AdjClose: 1}, {Date: day(2), AdjClose: 0}})
	assert.ErrorIs(t, err, optimization.ErrInvalidInput)

	got, err := store.GetDailyPrices(ctx, "AAA", day(1), day(31))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistoryStore_FetchPricesAlignsOnCommonDays(t *testing.T) {
	store := NewHistoryStore(setupHistoryDB(t), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.UpsertPrices(ctx, "AAA", []DailyPrice{
		{Date: day(1), AdjClose: 10}, {Date: day(2), AdjClose: 11}, {Date: day(3), AdjClose: 12}, {Date: day(4), AdjClose: 13},
	}))
	require.NoError(t, store.UpsertPrices(ctx, "BBB", []DailyPrice{
		{Date: day(2), AdjClose: 20}, {Date: day(4), AdjClose: 22}, {Date: day(5), AdjClose: 23},
	}))

	m, err := store.FetchPrices(ctx, []string{"BBB", "AAA"}, day(1), day(31))
	require.NoError(t, err)

	assert.Equal(t, []string{"BBB", "AAA"}, m.Symbols())
	assert.Equal(t, []time.Time{day(2), day(4)}, m.Dates())
	assert.Equal(t, []float64{20, 11}, m.Row(0))
	assert.Equal(t, []float64{22, 13}, m.Row(1))
}

func TestHistoryStore_FetchPricesInsufficientData(t *testing.T) {
	store := NewHistoryStore(setupHistoryDB(t), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.UpsertPrices(ctx, "AAA", []DailyPrice{{Date: day(1), AdjClose: 10}, {Date: day(2), AdjClose: 11}}))
	require.NoError(t, store.UpsertPrices(ctx, "BBB", []DailyPrice{{Date: day(2), AdjClose: 20}, {Date: day(3), AdjClose: 21}}))

	tests := []struct {
		name    string
		symbols []string
		end     time.Time
	}{
		{"unknown symbol", []string{"AAA", "ZZZ"}, day(31)},
		{"one common day", []string{"AAA", "BBB"}, day(31)},
		{"range too short", []string{"AAA"}, day(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.FetchPrices(ctx, tt.symbols, day(1), tt.end)
			assert.ErrorIs(t, err, optimization.ErrInsufficientData)
		})
	}

	_, err := store.FetchPrices(ctx, nil, day(1), day(31))
	assert.ErrorIs(t, err, optimization.ErrInvalidInput)
}

func TestHistoryStore_ImportCSV(t *testing.T) {
	store := NewHistoryStore(setupHistoryDB(t), zerolog.Nop())
	ctx := context.Background()

	csv := strings.Join([]string{
		"Date,Open,High,Low,Close,Adj Close,Volume",
		"2024-01-01,1,1,1,50,49.5,100",
		"2024-01-02,1,1,1,null,null,null",
		"2024-01-03,1,1,1,51,50.5,100",
		"2024-01-04,1,1,1,0,0,100",
	}, "\n")

	n, err := store.ImportCSV(ctx, "AAA", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetDailyPrices(ctx, "AAA", day(1), day(31))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 49.5, got[0].AdjClose)
	assert.Equal(t, day(3), got[1].Date)
}

func TestParseCSV(t *testing.T) {
	t.Run("falls back to Close", func(t *testing.T) {
		got, err := ParseCSV(strings.NewReader("date,close\n2024-01-05,12.5\n"))
		require.NoError(t, err)
		assert.Equal(t, []DailyPrice{{Date: day(5), AdjClose: 12.5}}, got)
	})

	t.Run("missing columns", func(t *testing.T) {
		_, err := ParseCSV(strings.NewReader("Date,Volume\n2024-01-05,100\n"))
		assert.ErrorIs(t, err, optimization.ErrInvalidInput)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := ParseCSV(strings.NewReader(""))
		assert.ErrorIs(t, err, optimization.ErrInvalidInput)
	})

	t.Run("bad date", func(t *testing.T) {
		_, err := ParseCSV(strings.NewReader("Date,Adj Close\n05/01/2024,10\n"))
		assert.ErrorIs(t, err, optimization.ErrInvalidInput)
	})
}
