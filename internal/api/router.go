package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/powhq/pow/internal/auth"
	"github.com/powhq/pow/internal/metrics"
)

// NewRouter wires the routes. collector may be nil, in which case /metrics is
// not served.
func NewRouter(h *Handler, secret string, collector *metrics.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if collector != nil {
		r.Use(collector.InstrumentHandler)
		r.Method(http.MethodGet, "/metrics", collector.Handler())
	}

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(internal chi.Router) {
		internal.Use(auth.Middleware(secret))
		internal.Post("/api/internal/sync", h.HandleSync)
	})

	return r
}
