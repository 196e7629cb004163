package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the three databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	databases := []struct {
		name    string
		profile database.DatabaseProfile
		dst     **database.DB
	}{
		// history.db - daily adjusted close prices
		{"history", database.ProfileStandard, &container.HistoryDB},
		// cache.db - price matrices, safe to lose
		{"cache", database.ProfileCache, &container.CacheDB},
		// runs.db - optimization results
		{"runs", database.ProfileDurable, &container.RunsDB},
	}

	for _, d := range databases {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, d.name+".db"),
			Profile: d.profile,
			Name:    d.name,
		})
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", d.name, err)
		}
		*d.dst = db

		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", d.name, err)
		}
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
