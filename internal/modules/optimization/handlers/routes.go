package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers optimization, run history and price routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/optimize", h.HandleOptimize)
	r.Post("/frontier", h.HandleFrontier)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetRun(w, r, chi.URLParam(r, "id"))
		})
	})

	r.Route("/prices", func(r chi.Router) {
		r.Delete("/cache", h.HandleClearCache)
		r.Post("/{symbol}/import", func(w http.ResponseWriter, r *http.Request) {
			h.HandleImportPrices(w, r, chi.URLParam(r, "symbol"))
		})
	})
}
