package prices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// cachedMatrix is the msgpack payload stored in price_cache.data. Columns
// are kept in sorted-symbol order so one entry serves every permutation of
// the same symbol set.
type cachedMatrix struct {
	Symbols []string    `msgpack:"symbols"`
	Dates   []int64     `msgpack:"dates"`
	Values  [][]float64 `msgpack:"values"`
}

// Cache is a TTL cache of aligned price matrices in the cache database. It
// is owned by whoever constructs it; nothing is shared between instances
// except the underlying table.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	log zerolog.Logger
	now func() time.Time
}

func NewCache(db *sql.DB, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		ttl: ttl,
		log: log.With().Str("component", "price_cache").Logger(),
		now: time.Now,
	}
}

// Key builds the cache key for a request. Symbol order does not matter.
func Key(symbols []string, start, end time.Time) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",") + "|" + dayStart(start).Format(dateLayout) + "|" + dayStart(end).Format(dateLayout)
}

// Get returns the cached matrix with columns in the requested order. A miss,
// including an expired entry, returns (nil, false, nil).
func (c *Cache) Get(ctx context.Context, symbols []string, start, end time.Time) (*optimization.PriceMatrix, bool, error) {
	key := Key(symbols, start, end)

	var data []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		"SELECT data, expires_at FROM price_cache WHERE cache_key = ?", key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read price cache: %w", err)
	}
	if expiresAt <= c.now().Unix() {
		return nil, false, nil
	}

	var cached cachedMatrix
	if err := msgpack.Unmarshal(data, &cached); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return nil, false, nil
	}

	var dates []time.Time
	if len(cached.Dates) > 0 {
		dates = make([]time.Time, len(cached.Dates))
		for t, d := range cached.Dates {
			dates[t] = time.Unix(d, 0).UTC()
		}
	}
	m, err := optimization.NewPriceMatrix(cached.Symbols, dates, cached.Values)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt price cache entry %s: %w", key, err)
	}
	selected, err := m.Select(symbols)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt price cache entry %s: %w", key, err)
	}
	return selected, true, nil
}

// Put stores m under the request key until now+TTL.
func (c *Cache) Put(ctx context.Context, symbols []string, start, end time.Time, m *optimization.PriceMatrix) error {
	sorted := m.Symbols()
	sort.Strings(sorted)
	canonical, err := m.Select(sorted)
	if err != nil {
		return err
	}

	payload := cachedMatrix{Symbols: sorted, Values: make([][]float64, canonical.Rows())}
	for t := range payload.Values {
		payload.Values[t] = canonical.Row(t)
	}
	for _, d := range canonical.Dates() {
		payload.Dates = append(payload.Dates, d.Unix())
	}

	data, err := msgpack.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("failed to encode price matrix: %w", err)
	}

	key := Key(symbols, start, end)
	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO price_cache (cache_key, data, expires_at) VALUES (?, ?, ?)",
		key, data, c.now().Add(c.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write price cache: %w", err)
	}
	return nil
}

// Invalidate drops the entry for one request.
func (c *Cache) Invalidate(ctx context.Context, symbols []string, start, end time.Time) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM price_cache WHERE cache_key = ?", Key(symbols, start, end)); err != nil {
		return fmt.Errorf("failed to invalidate price cache: %w", err)
	}
	return nil
}

// InvalidateAll empties the cache and reports how many entries were removed.
func (c *Cache) InvalidateAll(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, "DELETE FROM price_cache")
	if err != nil {
		return 0, fmt.Errorf("failed to clear price cache: %w", err)
	}
	n, _ := result.RowsAffected()
	c.log.Info().Int64("entries", n).Msg("Cleared price cache")
	return n, nil
}

// DeleteExpired removes entries past their expiry.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, "DELETE FROM price_cache WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		c.log.Info().Int64("rows_deleted", n).Msg("Deleted expired price cache entries")
	}
	return n, nil
}
