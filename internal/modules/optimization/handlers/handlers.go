// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/rs/zerolog"
)

const maxImportBytes = 32 << 20

// RunStore persists optimization results.
type RunStore interface {
	Save(ctx context.Context, req optimization.Request, alloc *optimization.Allocation) (*runs.Run, error)
	Get(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, limit int) ([]runs.Run, error)
}

// PriceImporter loads a CSV price history for one symbol.
type PriceImporter interface {
	ImportCSV(ctx context.Context, symbol string, r io.Reader) (int, error)
}

// CacheInvalidator clears cached price matrices.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) (int64, error)
}

// Handler handles optimization HTTP requests
type Handler struct {
	service        *optimization.Service
	runs           RunStore
	importer       PriceImporter
	cache          CacheInvalidator
	method         string
	frontierPoints int
	log            zerolog.Logger
}

// NewHandler creates a new optimization handler. method labels metrics
// with the configured solver.
func NewHandler(
	service *optimization.Service,
	runStore RunStore,
	importer PriceImporter,
	cache CacheInvalidator,
	method string,
	frontierPoints int,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:        service,
		runs:           runStore,
		importer:       importer,
		cache:          cache,
		method:         method,
		frontierPoints: frontierPoints,
		log:            log.With().Str("handler", "optimization").Logger(),
	}
}

// optimizeRequest is the JSON body of POST /api/optimize and /api/frontier.
// Dates are YYYY-MM-DD or RFC3339.
type optimizeRequest struct {
	Symbols        []string  `json:"symbols"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	GeneratePlot   bool      `json:"generate_plot"`
	InitialWeights []float64 `json:"initial_weights,omitempty"`
	Points         int       `json:"points,omitempty"`
}

func (req optimizeRequest) toRequest() (optimization.Request, error) {
	start, err := parseDate(req.StartDate)
	if err != nil {
		return optimization.Request{}, fmt.Errorf("%w: start_date: %v", optimization.ErrInvalidInput, err)
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return optimization.Request{}, fmt.Errorf("%w: end_date: %v", optimization.ErrInvalidInput, err)
	}
	symbols := make([]string, len(req.Symbols))
	for i, s := range req.Symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return optimization.Request{
		Start:          start,
		End:            end,
		Symbols:        symbols,
		GeneratePlot:   req.GeneratePlot,
		InitialWeights: req.InitialWeights,
	}, nil
}

// HandleOptimize handles POST /api/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var body optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		h.writeServiceError(w, err, "Invalid optimization request")
		return
	}

	start := time.Now()
	alloc, err := h.service.OptimizePortfolio(r.Context(), req)
	if err != nil {
		metrics.ObserveOptimization(h.method, "error", 0, time.Since(start))
		h.writeServiceError(w, err, "Failed to optimize portfolio")
		return
	}
	metrics.ObserveOptimization(h.method, alloc.Status.String(), alloc.Iterations, time.Since(start))

	var runID string
	if h.runs != nil {
		run, err := h.runs.Save(r.Context(), req, alloc)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to store optimization run")
		} else {
			runID = run.ID
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"run_id":     runID,
			"allocation": alloc,
		},
		"metadata": metadata(),
	})
}

// HandleFrontier handles POST /api/frontier
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	var body optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		h.writeServiceError(w, err, "Invalid frontier request")
		return
	}

	points := body.Points
	if points <= 0 {
		points = h.frontierPoints
	}

	frontier, err := h.service.Frontier(r.Context(), req, points)
	if err != nil {
		h.writeServiceError(w, err, "Failed to build efficient frontier")
		return
	}
	metrics.FrontierPointsTotal.Add(float64(len(frontier)))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbols": req.Symbols,
			"points":  frontier,
			"count":   len(frontier),
		},
		"metadata": metadata(),
	})
}

// HandleListRuns handles GET /api/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	list, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list optimization runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list optimization runs")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"runs":  list,
			"count": len(list),
		},
		"metadata": metadata(),
	})
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, runs.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get optimization run")
		h.writeError(w, http.StatusInternalServerError, "Failed to get optimization run")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     run,
		"metadata": metadata(),
	})
}

// HandleImportPrices handles POST /api/prices/{symbol}/import with a CSV body.
// A successful import clears the price cache so stale matrices are not served.
func (h *Handler) HandleImportPrices(w http.ResponseWriter, r *http.Request, symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	n, err := h.importer.ImportCSV(r.Context(), symbol, body)
	if err != nil {
		h.writeServiceError(w, err, "Failed to import prices")
		return
	}

	if h.cache != nil {
		if _, err := h.cache.InvalidateAll(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Failed to clear price cache after import")
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":   symbol,
			"imported": n,
		},
		"metadata": metadata(),
	})
}

// HandleClearCache handles DELETE /api/prices/cache
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.InvalidateAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to clear price cache")
		h.writeError(w, http.StatusInternalServerError, "Failed to clear price cache")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"deleted": n,
		},
		"metadata": metadata(),
	})
}

// writeServiceError maps domain errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, optimization.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, optimization.ErrInsufficientData), errors.Is(err, optimization.ErrInfeasible):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, status, msg)
		return
	}
	h.log.Warn().Err(err).Int("status", status).Msg(msg)
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": msg,
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func metadata() map[string]interface{} {
	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
