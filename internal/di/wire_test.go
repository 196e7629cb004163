package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:  t.TempDir(),
		Port:     8001,
		LogLevel: "info",
		Optimizer: config.OptimizerConfig{
			Method:        config.MethodSLSQP,
			MaxIterations: 100,
			Tolerance:     1e-6,
			Formulation:   "bounds",
		},
		Market:   config.MarketConfig{PeriodsPerYear: 252, BenchmarkSymbol: "SPY"},
		Cache:    config.CacheConfig{TTL: time.Hour, CleanupSchedule: "@hourly"},
		Frontier: config.FrontierConfig{Points: 5, Workers: 2},
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Len(t, container.Databases(), 3)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "history.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "cache.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "runs.db"))
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.NotNil(t, container.HistoryStore)
	assert.NotNil(t, container.PriceCache)
	assert.NotNil(t, container.RunRepo)
	assert.NotNil(t, container.OptimizationService)
	assert.IsType(t, &optimization.SLSQP{}, container.Solver)
	assert.IsType(t, &prices.CachedFetcher{}, container.PriceFetcher)

	require.NotNil(t, jobs)
	assert.ElementsMatch(t, []string{"price_cache_cleanup", "check_wal_checkpoints"}, container.Scheduler.Jobs())
	assert.NoError(t, jobs.PriceCacheCleanup.Run())
	assert.NoError(t, jobs.CheckWALCheckpoints.Run())
}

func TestWire_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	container, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	aaa := []float64{100, 101, 103.02, 101.99, 105.05, 106.1, 108.22}
	bbb := []float64{100, 100, 101, 102.01, 102.01, 102.01, 103.03}
	var a, b []prices.DailyPrice
	for i := range aaa {
		a = append(a, prices.DailyPrice{Date: day(i + 1), AdjClose: aaa[i]})
		b = append(b, prices.DailyPrice{Date: day(i + 1), AdjClose: bbb[i]})
	}
	require.NoError(t, container.HistoryStore.UpsertPrices(ctx, "AAA", a))
	require.NoError(t, container.HistoryStore.UpsertPrices(ctx, "BBB", b))

	alloc, err := container.OptimizationService.OptimizePortfolio(ctx, optimization.Request{
		Start:   day(1),
		End:     day(31),
		Symbols: []string{"AAA", "BBB"},
	})
	require.NoError(t, err)
	require.Len(t, alloc.Weights, 2)
	assert.InDelta(t, 1.0, alloc.Weights[0].Weight+alloc.Weights[1].Weight, 1e-6)

	_, hit, err := container.PriceCache.Get(ctx, []string{"AAA", "BBB"}, day(1), day(31))
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestNewSolver(t *testing.T) {
	s, err := NewSolver(config.OptimizerConfig{Method: config.MethodPenalty}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &optimization.PenaltySolver{}, s)

	_, err = NewSolver(config.OptimizerConfig{Method: "newton"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestInitializeServices_RequiresDatabases(t *testing.T) {
	err := InitializeServices(&Container{}, testConfig(t), zerolog.Nop())
	assert.Error(t, err)

	_, err = RegisterJobs(&Container{}, testConfig(t), zerolog.Nop())
	assert.Error(t, err)
}
