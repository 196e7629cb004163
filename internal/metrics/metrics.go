// Package metrics provides Prometheus instrumentation for the allocator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OptimizationsTotal counts optimizer runs by solver method and final status.
	OptimizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_optimizations_total",
		Help: "Total portfolio optimizations by method and termination status",
	}, []string{"method", "status"})

	// OptimizationDuration tracks wall time of a full optimization request.
	OptimizationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allocator_optimization_duration_seconds",
		Help:    "Portfolio optimization duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	// OptimizationIterations tracks solver major iterations per run.
	OptimizationIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocator_optimization_iterations",
		Help:    "Major iterations used per optimization",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
	})

	// FrontierPointsTotal counts solved efficient-frontier points.
	FrontierPointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allocator_frontier_points_total",
		Help: "Efficient frontier points computed",
	})

	// PriceCacheLookups counts price cache lookups by result (hit or miss).
	PriceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_price_cache_lookups_total",
		Help: "Price cache lookups by result",
	}, []string{"result"})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allocator_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// ObserveOptimization records one finished optimization.
func ObserveOptimization(method, status string, iterations int, elapsed time.Duration) {
	OptimizationsTotal.WithLabelValues(method, status).Inc()
	OptimizationDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	OptimizationIterations.Observe(float64(iterations))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route patterns keep label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
