package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// handleListSessions handles GET /v1/sessions.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.container.Sessions()
	items := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toSessionResponse(s))
	}
	h.writeJSON(w, r, http.StatusOK, ListSessionsResponse{Items: items, Total: len(items)})
}

// handleGetSession handles GET /v1/sessions/{id}.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	s, found := h.container.Session(id)
	if !found {
		h.handleServiceError(w, r, domain.ErrSessionNotFound.WithDetailsf("session %d", id))
		return
	}
	h.writeJSON(w, r, http.StatusOK, toSessionResponse(s))
}

// handleOpenSession handles POST /v1/sessions.
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	if h.replicator == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "cluster not configured")
		return
	}

	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid request body")
		return
	}

	s, err := domain.NewClientSession(req.ID, req.ResponseStreamID, req.ResponseChannel, req.EncodedPrincipal)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if err := h.replicator.OpenSession(s); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("session opened via api", "cluster_session_id", s.ID, "request_id", getRequestID(r))
	h.writeJSON(w, r, http.StatusCreated, toSessionResponse(s))
}

// handleCloseSession handles POST /v1/sessions/{id}/close.
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if h.replicator == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "cluster not configured")
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.replicator.CloseSession(id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "closed": true})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, CodeInvalidID, "session id must be an integer")
		return 0, false
	}
	return id, true
}
