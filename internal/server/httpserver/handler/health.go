package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. A clustered node is ready once it
// follows or leads; a standalone node is always ready.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	state := "Standalone"
	if h.replicator != nil {
		state = h.replicator.State()
		switch state {
		case "Leader", "Follower", "Standalone":
		default:
			h.writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "raft state "+state)
			return
		}
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"state":  state,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
