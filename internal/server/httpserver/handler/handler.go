package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/server/raftnode"
	"github.com/yndnr/clustersnap-go/internal/storage"
)

// Error codes produced by the HTTP layer itself.
const (
	CodeInvalidBody = "CS-HTTP-4000"
	CodeInvalidID   = "CS-HTTP-4001"
	CodeNotLeader   = "CS-CLUS-5031"
	CodeInternal    = "CS-SYS-5000"
	CodeUnavailable = "CS-SYS-5030"
)

// Replicator submits session commands through the cluster log.
type Replicator interface {
	OpenSession(s *domain.ClientSession) error
	CloseSession(id int64) error
	IsLeader() bool
	State() string
}

// Archive stores snapshot recordings of the container.
type Archive interface {
	List(ctx context.Context) ([]*storage.CatalogEntry, error)
	Get(ctx context.Context, id string) (*storage.CatalogEntry, error)
	Capture(ctx context.Context, c *service.Container, logPosition, leadershipTermID int64) (*storage.CatalogEntry, error)
	Prune(ctx context.Context) ([]string, error)
}

// PositionSource reports the last applied log index and term, which an
// archived snapshot is recorded at.
type PositionSource interface {
	LastApplied() (index, term uint64)
}

// Config holds the handler dependencies. Replicator, Archive and Position
// are optional; their endpoints answer 503 when unset.
type Config struct {
	Container  *service.Container
	Replicator Replicator
	Archive    Archive
	Position   PositionSource
	Logger     *slog.Logger
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	container  *service.Container
	replicator Replicator
	archive    Archive
	position   PositionSource
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		container:  cfg.Container,
		replicator: cfg.Replicator,
		archive:    cfg.Archive,
		position:   cfg.Position,
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all HTTP routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	h.mux.HandleFunc("POST /v1/sessions", h.handleOpenSession)
	h.mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	h.mux.HandleFunc("POST /v1/sessions/{id}/close", h.handleCloseSession)

	h.mux.HandleFunc("GET /v1/snapshots", h.handleListSnapshots)
	h.mux.HandleFunc("POST /v1/snapshots", h.handleCaptureSnapshot)
	h.mux.HandleFunc("GET /v1/snapshots/{id}", h.handleGetSnapshot)
	h.mux.HandleFunc("POST /v1/snapshots/prune", h.handlePruneSnapshots)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message, nil)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// getRequestID returns the request ID set by the RequestID middleware.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// handleServiceError converts domain errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, raftnode.ErrNotLeader) {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeNotLeader, err.Error())
		return
	}
	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		h.writeError(w, r, errorCodeToHTTPStatus(code), code, err.Error())
		return
	}

	h.logger.Error("internal error", "path", r.URL.Path, "error", err)
	h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4130"):
		return http.StatusRequestEntityTooLarge
	case strings.HasPrefix(code, "CS-ARG-"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "CS-PROT-"), strings.HasPrefix(code, "CS-SNAP-"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(code, "CS-PUBL-"), strings.HasPrefix(code, "CS-AGNT-"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
