package di

import (
	"fmt"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/rs/zerolog"
)

// InitializeServices builds repositories and services on top of the open
// databases.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.HistoryDB == nil || container.CacheDB == nil || container.RunsDB == nil {
		return fmt.Errorf("databases must be initialized before services")
	}

	container.HistoryStore = prices.NewHistoryStore(container.HistoryDB.Conn(), log)
	container.PriceCache = prices.NewCache(container.CacheDB.Conn(), cfg.Cache.TTL, log)
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn(), log)
	container.PriceFetcher = prices.NewCachedFetcher(container.HistoryStore, container.PriceCache, log)

	solver, err := NewSolver(cfg.Optimizer, log)
	if err != nil {
		return err
	}
	container.Solver = solver

	// Frontier points are always solved with SLSQP.
	frontierSolver := optimization.Solver(optimization.NewSLSQP(solverSettings(cfg.Optimizer), log))
	if s, ok := solver.(*optimization.SLSQP); ok {
		frontierSolver = s
	}
	container.FrontierBuilder = optimization.NewFrontierBuilder(
		frontierSolver,
		cfg.Frontier.Workers,
		cfg.Market.RiskFreeRate,
		cfg.Market.PeriodsPerYear,
		log,
	)

	formulation := optimization.FormulationBounds
	if cfg.Optimizer.Formulation == "inequality" {
		formulation = optimization.FormulationInequality
	}
	container.OptimizationService = optimization.NewService(
		container.PriceFetcher,
		container.Solver,
		container.FrontierBuilder,
		optimization.ServiceConfig{
			RiskFreeRate:    cfg.Market.RiskFreeRate,
			PeriodsPerYear:  cfg.Market.PeriodsPerYear,
			BenchmarkSymbol: cfg.Market.BenchmarkSymbol,
			Formulation:     formulation,
		},
		log,
	)

	log.Info().
		Str("method", cfg.Optimizer.Method).
		Str("formulation", cfg.Optimizer.Formulation).
		Msg("Services initialized")
	return nil
}

// NewSolver returns the solver selected by cfg.Method.
func NewSolver(cfg config.OptimizerConfig, log zerolog.Logger) (optimization.Solver, error) {
	switch cfg.Method {
	case config.MethodSLSQP, "":
		return optimization.NewSLSQP(solverSettings(cfg), log), nil
	case config.MethodPenalty:
		return optimization.NewPenaltySolver(solverSettings(cfg), log), nil
	default:
		return nil, fmt.Errorf("unknown optimizer method %q", cfg.Method)
	}
}

func solverSettings(cfg config.OptimizerConfig) optimization.Settings {
	settings := optimization.DefaultSettings()
	if cfg.MaxIterations > 0 {
		settings.MaxIterations = cfg.MaxIterations
	}
	if cfg.Tolerance > 0 {
		settings.Tolerance = cfg.Tolerance
	}
	return settings
}
