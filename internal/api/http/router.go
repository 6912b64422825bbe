package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/halcyon-ai/halcyon-sync/internal/api/recovery"
	syncpkg "github.com/halcyon-ai/halcyon-sync/internal/sync"
	"github.com/halcyon-ai/halcyon-sync/internal/transport"
)

// HealthReporter exposes the aggregated service health flag.
type HealthReporter interface {
	IsHealthy() bool
}

// NewRouter wires the sync service HTTP surface: the WebSocket sync endpoint,
// health probes, and read-only observability endpoints.
func NewRouter(mgr *syncpkg.Manager, hub *transport.Hub, ws *transport.WSHandler, hr HealthReporter) *mux.Router {
	r := mux.NewRouter()
	r.Use(recovery.Middleware)

	r.Handle("/v0/sync/ws", ws).Methods(http.MethodGet)

	sh := NewSyncHandler(mgr, hub)
	r.HandleFunc("/v0/sync/stats", sh.GetStats).Methods(http.MethodGet)
	r.HandleFunc("/v0/sync/conflicts", sh.GetConflicts).Methods(http.MethodGet)

	hh := NewHealthHandler(hr)
	r.HandleFunc("/v0/health", hh.Health).Methods(http.MethodGet)
	r.HandleFunc("/v0/health/live", hh.Liveness).Methods(http.MethodGet)

	return r
}
