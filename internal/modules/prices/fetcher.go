package prices

import (
	"context"
	"time"

	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/rs/zerolog"
)

// CachedFetcher serves matrices from a Cache and falls back to the wrapped
// fetcher on a miss. Cache read and write failures are logged and never
// fail the request.
type CachedFetcher struct {
	source optimization.PriceFetcher
	cache  *Cache
	log    zerolog.Logger
}

func NewCachedFetcher(source optimization.PriceFetcher, cache *Cache, log zerolog.Logger) *CachedFetcher {
	return &CachedFetcher{
		source: source,
		cache:  cache,
		log:    log.With().Str("component", "cached_fetcher").Logger(),
	}
}

func (f *CachedFetcher) FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*optimization.PriceMatrix, error) {
	m, ok, err := f.cache.Get(ctx, symbols, start, end)
	if err != nil {
		f.log.Warn().Err(err).Strs("symbols", symbols).Msg("Price cache read failed")
	}
	if ok {
		metrics.PriceCacheLookups.WithLabelValues("hit").Inc()
		f.log.Debug().Strs("symbols", symbols).Msg("Price cache hit")
		return m, nil
	}
	metrics.PriceCacheLookups.WithLabelValues("miss").Inc()

	m, err = f.source.FetchPrices(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Put(ctx, symbols, start, end, m); err != nil {
		f.log.Warn().Err(err).Strs("symbols", symbols).Msg("Price cache write failed")
	}
	return m, nil
}

// CleanupJob deletes expired cache entries on a schedule.
type CleanupJob struct {
	cache   *Cache
	timeout time.Duration
	log     zerolog.Logger
}

func NewCleanupJob(cache *Cache, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache:   cache,
		timeout: time.Minute,
		log:     log.With().Str("job", "price_cache_cleanup").Logger(),
	}
}

func (j *CleanupJob) Name() string {
	return "price_cache_cleanup"
}

func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.cache.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	j.log.Debug().Int64("rows_deleted", n).Msg("Price cache cleanup finished")
	return nil
}
