// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/aristath/allocator/internal/scheduler"
)

// Container holds all dependencies for the application. It is created by
// Wire and passed to the server.
type Container struct {
	// Databases
	HistoryDB *database.DB // daily price history
	CacheDB   *database.DB // rebuildable price matrix cache
	RunsDB    *database.DB // stored optimization results

	// Repositories
	HistoryStore *prices.HistoryStore
	PriceCache   *prices.Cache
	RunRepo      *runs.Repository

	// Services
	PriceFetcher        optimization.PriceFetcher
	Solver              optimization.Solver
	FrontierBuilder     *optimization.FrontierBuilder
	OptimizationService *optimization.Service

	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered background jobs.
type JobInstances struct {
	PriceCacheCleanup   scheduler.Job
	CheckWALCheckpoints scheduler.Job
}

// Databases returns every open database, skipping nil entries.
func (c *Container) Databases() []*database.DB {
	var out []*database.DB
	for _, db := range []*database.DB{c.HistoryDB, c.CacheDB, c.RunsDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close closes all databases and returns the first error.
func (c *Container) Close() error {
	var firstErr error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
