package handler

import (
	"time"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/storage"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// OpenSessionRequest is the request body for POST /v1/sessions.
// EncodedPrincipal is base64 in JSON.
type OpenSessionRequest struct {
	ID               int64  `json:"id"`
	ResponseStreamID int32  `json:"response_stream_id"`
	ResponseChannel  string `json:"response_channel"`
	EncodedPrincipal []byte `json:"encoded_principal,omitempty"`
}

// SessionResponse represents a session in API responses. The principal is
// never returned, only its length.
type SessionResponse struct {
	ID               int64  `json:"id"`
	ResponseStreamID int32  `json:"response_stream_id"`
	ResponseChannel  string `json:"response_channel"`
	PrincipalLength  int    `json:"principal_length"`
}

func toSessionResponse(s *domain.ClientSession) SessionResponse {
	return SessionResponse{
		ID:               s.ID,
		ResponseStreamID: s.ResponseStreamID,
		ResponseChannel:  s.ResponseChannel,
		PrincipalLength:  len(s.EncodedPrincipal),
	}
}

// ListSessionsResponse is the response body for GET /v1/sessions.
type ListSessionsResponse struct {
	Items []SessionResponse `json:"items"`
	Total int               `json:"total"`
}

// SnapshotResponse represents a snapshot recording in API responses.
type SnapshotResponse struct {
	ID               string    `json:"id"`
	TypeID           int64     `json:"type_id"`
	LogPosition      int64     `json:"log_position"`
	LeadershipTermID int64     `json:"leadership_term_id"`
	AppVersion       string    `json:"app_version"`
	TimeUnit         string    `json:"time_unit"`
	SessionCount     int       `json:"session_count"`
	SizeBytes        int64     `json:"size_bytes"`
	Encryption       string    `json:"encryption,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toSnapshotResponse(e *storage.CatalogEntry) SnapshotResponse {
	return SnapshotResponse{
		ID:               e.ID,
		TypeID:           e.TypeID,
		LogPosition:      e.LogPosition,
		LeadershipTermID: e.LeadershipTermID,
		AppVersion:       service.VersionString(e.AppVersion),
		TimeUnit:         e.TimeUnit.String(),
		SessionCount:     e.SessionCount,
		SizeBytes:        e.SizeBytes,
		Encryption:       encryptionAlgorithm(e),
		CreatedAt:        e.CreatedAt,
	}
}

func encryptionAlgorithm(e *storage.CatalogEntry) string {
	if e.Encryption == nil {
		return ""
	}
	return e.Encryption.Algorithm
}

// ListSnapshotsResponse is the response body for GET /v1/snapshots.
type ListSnapshotsResponse struct {
	Items []SnapshotResponse `json:"items"`
	Total int                `json:"total"`
}

// PruneSnapshotsResponse is the response body for POST /v1/snapshots/prune.
type PruneSnapshotsResponse struct {
	Removed []string `json:"removed"`
}
