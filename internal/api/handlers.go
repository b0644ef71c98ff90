// Package api exposes the internal sync trigger and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/powhq/pow/internal/app"
	"github.com/powhq/pow/internal/auth"
)

// SyncRunner runs a sync batch for one tenant or all of them.
type SyncRunner interface {
	SyncBatch(ctx context.Context, tenantID string) ([]app.TenantResult, error)
}

// HealthCheck reports whether backing storage is reachable.
type HealthCheck func(ctx context.Context) error

// SyncResponse is returned by the sync trigger.
type SyncResponse struct {
	Success bool               `json:"success"`
	Results []app.TenantResult `json:"results"`
}

// Handler serves the HTTP API.
type Handler struct {
	runner    SyncRunner
	health    HealthCheck
	logger    *slog.Logger
	startTime time.Time
}

// NewHandler creates a Handler. health may be nil.
func NewHandler(runner SyncRunner, health HealthCheck, logger *slog.Logger) *Handler {
	return &Handler{
		runner:    runner,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HandleSync handles POST /api/internal/sync
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	tenantID, err := decodeSyncRequest(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, _ := auth.CallerFromContext(r.Context())
	h.logger.Info("sync triggered", "caller", caller, "tenant_id", tenantID)

	results, err := h.runner.SyncBatch(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("sync batch failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Internal server error",
		})
		return
	}

	if results == nil {
		results = []app.TenantResult{}
	}
	h.writeJSON(w, http.StatusOK, SyncResponse{Success: true, Results: results})
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	}

	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			status["status"] = "degraded"
			status["database"] = "unreachable"
			h.writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
