package di

import (
	"fmt"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/scheduler"
	"github.com/rs/zerolog"
)

// walCheckpointSchedule runs the WAL check every 15 minutes.
const walCheckpointSchedule = "0 */15 * * * *"

// RegisterJobs creates the maintenance jobs and schedules them on the
// container's scheduler.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.PriceCache == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}
	if container.Scheduler == nil {
		container.Scheduler = scheduler.New(log)
	}

	instances := &JobInstances{
		PriceCacheCleanup:   prices.NewCleanupJob(container.PriceCache, log),
		CheckWALCheckpoints: scheduler.NewCheckWALCheckpointsJob(log, container.Databases()...),
	}

	if err := container.Scheduler.AddJob(cfg.Cache.CleanupSchedule, instances.PriceCacheCleanup); err != nil {
		return nil, fmt.Errorf("failed to register price cache cleanup: %w", err)
	}
	if err := container.Scheduler.AddJob(walCheckpointSchedule, instances.CheckWALCheckpoints); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}

	return instances, nil
}
