package http

import (
	"net/http"

	"github.com/halcyon-ai/halcyon-sync/internal/api/respond"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	reporter HealthReporter
}

func NewHealthHandler(hr HealthReporter) *HealthHandler {
	return &HealthHandler{reporter: hr}
}

// Health GET /v0/health — readiness, backed by the aggregated service checker.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.reporter != nil && !h.reporter.IsHealthy() {
		respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Liveness GET /v0/health/live — process-up probe, always 200.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
