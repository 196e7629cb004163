// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported optimizer methods.
const (
	MethodSLSQP   = "slsqp"
	MethodPenalty = "penalty"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Optimizer OptimizerConfig
	Market    MarketConfig
	Cache     CacheConfig
	Frontier  FrontierConfig
}

// OptimizerConfig selects and tunes the weight solver.
type OptimizerConfig struct {
	Method        string
	MaxIterations int
	Tolerance     float64
	// Formulation is "bounds" or "inequality".
	Formulation string
}

// MarketConfig holds the return conventions shared by objective and statistics.
type MarketConfig struct {
	RiskFreeRate    float64 // annual
	PeriodsPerYear  int
	BenchmarkSymbol string
}

type CacheConfig struct {
	TTL             time.Duration
	CleanupSchedule string // cron spec, seconds field optional
}

type FrontierConfig struct {
	Points  int
	Workers int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("ALLOCATOR_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Optimizer: OptimizerConfig{
			Method:        strings.ToLower(getEnv("OPTIMIZER_METHOD", MethodSLSQP)),
			MaxIterations: getEnvAsInt("OPTIMIZER_MAX_ITERATIONS", 100),
			Tolerance:     getEnvAsFloat("OPTIMIZER_TOLERANCE", 1e-6),
			Formulation:   strings.ToLower(getEnv("OPTIMIZER_FORMULATION", "bounds")),
		},
		Market: MarketConfig{
			RiskFreeRate:    getEnvAsFloat("RISK_FREE_RATE", 0),
			PeriodsPerYear:  getEnvAsInt("PERIODS_PER_YEAR", 252),
			BenchmarkSymbol: getEnv("BENCHMARK_SYMBOL", "SPY"),
		},
		Cache: CacheConfig{
			TTL:             getEnvAsDuration("PRICE_CACHE_TTL", 24*time.Hour),
			CleanupSchedule: getEnv("CACHE_CLEANUP_SCHEDULE", "@hourly"),
		},
		Frontier: FrontierConfig{
			Points:  getEnvAsInt("FRONTIER_POINTS", 20),
			Workers: getEnvAsInt("FRONTIER_WORKERS", 4),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that numeric settings are usable and enums are known.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT %d", c.Port)
	}

	switch c.Optimizer.Method {
	case MethodSLSQP, MethodPenalty:
	default:
		return fmt.Errorf("unknown OPTIMIZER_METHOD %q (want %s or %s)", c.Optimizer.Method, MethodSLSQP, MethodPenalty)
	}
	switch c.Optimizer.Formulation {
	case "bounds", "inequality":
	default:
		return fmt.Errorf("unknown OPTIMIZER_FORMULATION %q", c.Optimizer.Formulation)
	}
	if c.Optimizer.MaxIterations <= 0 {
		return fmt.Errorf("OPTIMIZER_MAX_ITERATIONS must be positive, got %d", c.Optimizer.MaxIterations)
	}
	if !(c.Optimizer.Tolerance > 0) {
		return fmt.Errorf("OPTIMIZER_TOLERANCE must be positive, got %g", c.Optimizer.Tolerance)
	}

	if c.Market.PeriodsPerYear <= 0 {
		return fmt.Errorf("PERIODS_PER_YEAR must be positive, got %d", c.Market.PeriodsPerYear)
	}
	if c.Market.RiskFreeRate <= -1 {
		return fmt.Errorf("RISK_FREE_RATE must be greater than -1, got %g", c.Market.RiskFreeRate)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.Frontier.Points < 2 {
		return fmt.Errorf("FRONTIER_POINTS must be at least 2, got %d", c.Frontier.Points)
	}
	if c.Frontier.Workers <= 0 {
		return fmt.Errorf("FRONTIER_WORKERS must be positive, got %d", c.Frontier.Workers)
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
