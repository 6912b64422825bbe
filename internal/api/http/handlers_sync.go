package http

import (
	"net/http"

	"github.com/halcyon-ai/halcyon-sync/internal/api/respond"
	"github.com/halcyon-ai/halcyon-sync/internal/model"
	syncpkg "github.com/halcyon-ai/halcyon-sync/internal/sync"
	"github.com/halcyon-ai/halcyon-sync/internal/transport"
)

// SyncHandler serves read-only observability endpoints over the sync core.
type SyncHandler struct {
	mgr *syncpkg.Manager
	hub *transport.Hub
}

func NewSyncHandler(mgr *syncpkg.Manager, hub *transport.Hub) *SyncHandler {
	return &SyncHandler{mgr: mgr, hub: hub}
}

// GetStats GET /v0/sync/stats
func (h *SyncHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.mgr.Stats()
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sync":        stats,
		"connections": h.hub.ConnectionCount(),
	})
}

// GetConflicts GET /v0/sync/conflicts
// Returns the retained manual conflicts awaiting external adjudication.
func (h *SyncHandler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts := h.mgr.UnresolvedConflicts()
	if conflicts == nil {
		conflicts = []*model.ConflictInfo{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}
