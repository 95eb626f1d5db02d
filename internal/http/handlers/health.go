package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Check reports whether a dependency is reachable
type Check func(ctx context.Context) error

// HealthHandler serves GET /health
type HealthHandler struct {
	checks map[string]Check
	logger *zap.Logger
}

// NewHealthHandler creates a health handler running checks on every request
func NewHealthHandler(checks map[string]Check, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.logger.Warn("health_check_failed", zap.String("check", name), zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "failed": name})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
