package handler

import (
	"net/http"
)

// handleListSnapshots handles GET /v1/snapshots.
func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if !h.requireArchive(w, r) {
		return
	}
	entries, err := h.archive.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	items := make([]SnapshotResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toSnapshotResponse(e))
	}
	h.writeJSON(w, r, http.StatusOK, ListSnapshotsResponse{Items: items, Total: len(items)})
}

// handleGetSnapshot handles GET /v1/snapshots/{id}.
func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.requireArchive(w, r) {
		return
	}
	entry, err := h.archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toSnapshotResponse(entry))
}

// handleCaptureSnapshot handles POST /v1/snapshots. The snapshot is
// recorded at the last applied log index and term.
func (h *Handler) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.requireArchive(w, r) {
		return
	}
	var index, term uint64
	if h.position != nil {
		index, term = h.position.LastApplied()
	}
	entry, err := h.archive.Capture(r.Context(), h.container, int64(index), int64(term))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.logger.Info("snapshot archived via api", "snapshot_id", entry.ID, "request_id", getRequestID(r))
	h.writeJSON(w, r, http.StatusCreated, toSnapshotResponse(entry))
}

// handlePruneSnapshots handles POST /v1/snapshots/prune.
func (h *Handler) handlePruneSnapshots(w http.ResponseWriter, r *http.Request) {
	if !h.requireArchive(w, r) {
		return
	}
	removed, err := h.archive.Prune(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	h.writeJSON(w, r, http.StatusOK, PruneSnapshotsResponse{Removed: removed})
}

func (h *Handler) requireArchive(w http.ResponseWriter, r *http.Request) bool {
	if h.archive == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "snapshot archive not configured")
		return false
	}
	return true
}
