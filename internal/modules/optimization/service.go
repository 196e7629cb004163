package optimization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds the market conventions used by Service.
type ServiceConfig struct {
	RiskFreeRate    float64
	PeriodsPerYear  int
	BenchmarkSymbol string
	Formulation     Formulation
}

// Request asks for the maximum-Sharpe allocation of Symbols over
// [Start, End]. InitialWeights defaults to the uniform portfolio.
type Request struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Symbols        []string  `json:"symbols"`
	GeneratePlot   bool      `json:"generate_plot"`
	InitialWeights []float64 `json:"initial_weights,omitempty"`
}

// SymbolWeight is one asset's share of the portfolio.
type SymbolWeight struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Series carries normalized portfolio values and, when available, the
// benchmark's normalized values on the same dates.
type Series struct {
	Dates           []time.Time `json:"dates"`
	Portfolio       []float64   `json:"portfolio"`
	BenchmarkSymbol string      `json:"benchmark_symbol,omitempty"`
	Benchmark       []float64   `json:"benchmark,omitempty"`
}

// Allocation is the result of a portfolio optimization.
type Allocation struct {
	Weights            []SymbolWeight `json:"weights"`
	CumulativeReturn   float64        `json:"cumulative_return"`
	AverageDailyReturn float64        `json:"average_daily_return"`
	DailyVolatility    float64        `json:"daily_volatility"`
	SharpeRatio        float64        `json:"sharpe_ratio"`
	Converged          bool           `json:"converged"`
	Iterations         int            `json:"iterations"`
	Status             Status         `json:"status"`
	Objective          float64        `json:"objective"`
	Warning            string         `json:"warning,omitempty"`
	Series             *Series        `json:"series,omitempty"`
}

// Service runs portfolio optimizations against a price source.
type Service struct {
	fetcher  PriceFetcher
	solver   Solver
	frontier *FrontierBuilder
	cfg      ServiceConfig
	log      zerolog.Logger
}

// NewService wires a service. A nil frontier builder is replaced by a
// single-worker SLSQP builder using cfg's market settings.
func NewService(fetcher PriceFetcher, solver Solver, frontier *FrontierBuilder, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}
	if frontier == nil {
		frontier = NewFrontierBuilder(NewSLSQP(DefaultSettings(), log), 1, cfg.RiskFreeRate, cfg.PeriodsPerYear, log)
	}
	return &Service{
		fetcher:  fetcher,
		solver:   solver,
		frontier: frontier,
		cfg:      cfg,
		log:      log.With().Str("service", "optimization").Logger(),
	}
}

// OptimizePortfolio fetches prices for the request and returns the
// maximum-Sharpe long-only allocation.
func (s *Service) OptimizePortfolio(ctx context.Context, req Request) (*Allocation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	prices, err := s.fetch(ctx, req.Symbols, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	alloc, err := s.OptimizePrices(prices, req.InitialWeights)
	if err != nil {
		return nil, err
	}
	if req.GeneratePlot {
		alloc.Series = s.series(ctx, prices, alloc, req)
	}
	return alloc, nil
}

// OptimizePrices maximizes the Sharpe ratio over an already loaded price
// matrix.
func (s *Service) OptimizePrices(prices *PriceMatrix, initial []float64) (*Allocation, error) {
	objective, err := NewSharpeObjective(prices, s.cfg.RiskFreeRate, s.cfg.PeriodsPerYear)
	if err != nil {
		return nil, err
	}
	n := prices.Cols()
	if initial == nil {
		initial = UniformWeights(n)
	}
	constraints := NewBudgetConstraints(n, s.cfg.Formulation)

	start := time.Now()
	result, err := s.solver.Optimize(initial, objective, constraints)
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}
	report, err := Summarize(result.Weights, prices, s.cfg.RiskFreeRate, s.cfg.PeriodsPerYear)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize portfolio: %w", err)
	}

	alloc := &Allocation{
		Weights:            make([]SymbolWeight, n),
		CumulativeReturn:   report.CumulativeReturn,
		AverageDailyReturn: report.AverageDailyReturn,
		DailyVolatility:    report.DailyVolatility,
		SharpeRatio:        report.SharpeRatio,
		Converged:          result.Converged,
		Iterations:         result.Iterations,
		Status:             result.Status,
		Objective:          result.Objective,
	}
	for i, sym := range prices.Symbols() {
		alloc.Weights[i] = SymbolWeight{Symbol: sym, Weight: result.Weights[i]}
	}
	if result.Warning != nil {
		alloc.Warning = result.Warning.Error()
	}

	s.log.Info().
		Strs("symbols", prices.Symbols()).
		Int("rows", prices.Rows()).
		Bool("converged", result.Converged).
		Int("iterations", result.Iterations).
		Float64("sharpe_ratio", report.SharpeRatio).
		Dur("duration", time.Since(start)).
		Msg("Portfolio optimized")
	return alloc, nil
}

// Frontier builds the efficient frontier for the requested window.
func (s *Service) Frontier(ctx context.Context, req Request, points int) ([]FrontierPoint, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	prices, err := s.fetch(ctx, req.Symbols, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	return s.frontier.Build(ctx, prices, points)
}

func (s *Service) fetch(ctx context.Context, symbols []string, start, end time.Time) (*PriceMatrix, error) {
	prices, err := s.fetcher.FetchPrices(ctx, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	if prices.Cols() != len(symbols) {
		return nil, fmt.Errorf("%w: fetched %d columns for %d symbols", ErrInvalidInput, prices.Cols(), len(symbols))
	}
	return prices.Select(symbols)
}

// series builds the plot payload. A missing benchmark only drops the
// benchmark line.
func (s *Service) series(ctx context.Context, prices *PriceMatrix, alloc *Allocation, req Request) *Series {
	weights := make([]float64, len(alloc.Weights))
	for i, w := range alloc.Weights {
		weights[i] = w.Weight
	}
	values, err := PortfolioValues(prices, weights)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to compute portfolio series")
		return nil
	}
	out := &Series{Dates: prices.Dates(), Portfolio: values}

	if s.cfg.BenchmarkSymbol == "" || out.Dates == nil {
		return out
	}
	bench, err := s.fetcher.FetchPrices(ctx, []string{s.cfg.BenchmarkSymbol}, req.Start, req.End)
	if err != nil {
		s.log.Warn().Err(err).Str("benchmark", s.cfg.BenchmarkSymbol).Msg("Benchmark prices unavailable")
		return out
	}
	if aligned := alignBenchmark(out.Dates, bench); aligned != nil {
		out.BenchmarkSymbol = s.cfg.BenchmarkSymbol
		out.Benchmark = aligned
	}
	return out
}

// alignBenchmark maps the benchmark onto dates, carrying the last known
// price forward, normalized to the first date. It returns nil when the
// benchmark has no price on or before the first date.
func alignBenchmark(dates []time.Time, bench *PriceMatrix) []float64 {
	benchDates := bench.Dates()
	if benchDates == nil {
		return nil
	}
	out := make([]float64, len(dates))
	j := 0
	last := 0.0
	for t, d := range dates {
		for j < len(benchDates) && !benchDates[j].After(d) {
			last = bench.At(j, 0)
			j++
		}
		if last == 0 {
			return nil
		}
		out[t] = last
	}
	base := out[0]
	for t := range out {
		out[t] /= base
	}
	return out
}

func validateRequest(req Request) error {
	if len(req.Symbols) == 0 {
		return fmt.Errorf("%w: at least one symbol is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(req.Symbols))
	for _, sym := range req.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("%w: blank symbol", ErrInvalidInput)
		}
		if _, dup := seen[sym]; dup {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidInput, sym)
		}
		seen[sym] = struct{}{}
	}
	if !req.End.After(req.Start) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidInput)
	}
	if req.InitialWeights != nil && len(req.InitialWeights) != len(req.Symbols) {
		return fmt.Errorf("%w: %d initial weights for %d symbols", ErrInvalidInput, len(req.InitialWeights), len(req.Symbols))
	}
	return nil
}
