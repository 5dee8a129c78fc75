package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/server/raftnode"
	"github.com/yndnr/clustersnap-go/internal/storage"
	"github.com/yndnr/clustersnap-go/internal/storage/snapshot"
	"github.com/yndnr/clustersnap-go/pkg/idle"
)

// fakeReplicator applies commands straight to the container.
type fakeReplicator struct {
	container *service.Container
	state     string
	err       error
}

func (f *fakeReplicator) OpenSession(s *domain.ClientSession) error {
	if f.err != nil {
		return f.err
	}
	return f.container.OpenSession(s)
}

func (f *fakeReplicator) CloseSession(id int64) error {
	if f.err != nil {
		return f.err
	}
	return f.container.CloseSession(id)
}

func (f *fakeReplicator) IsLeader() bool { return f.state == "Leader" }
func (f *fakeReplicator) State() string  { return f.state }

type fixedPosition struct{ index, term uint64 }

func (p fixedPosition) LastApplied() (uint64, uint64) { return p.index, p.term }

type testEnv struct {
	handler    *Handler
	container  *service.Container
	replicator *fakeReplicator
	archive    *snapshot.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	container := service.NewContainer(service.ContainerConfig{
		AppVersion:      service.ComposeVersion(2, 1, 0),
		TimeUnit:        codec.TimeUnitMicros,
		NewIdleStrategy: func() idle.Strategy { return idle.NoOp{} },
	})

	kvCfg := storage.DefaultKVConfig("")
	kvCfg.InMemory = true
	kv, err := storage.NewBadgerEngine(kvCfg, nil)
	if err != nil {
		t.Fatalf("NewBadgerEngine: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	cfg := snapshot.DefaultConfig(t.TempDir())
	cfg.RetentionCount = 1
	cfg.RetentionDays = -1
	archive, err := snapshot.NewManager(cfg, storage.NewCatalog(kv))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	replicator := &fakeReplicator{container: container, state: "Leader"}
	h := New(Config{
		Container:  container,
		Replicator: replicator,
		Archive:    archive,
		Position:   fixedPosition{index: 120, term: 3},
	})
	return &testEnv{handler: h, container: container, replicator: replicator, archive: archive}
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Request-ID", "req-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, resp
}

// decodeData re-decodes the envelope's data field into out.
func decodeData(t *testing.T, resp Response, out any) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := do(t, env.handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Code != "OK" || resp.RequestID != "req-test" {
		t.Errorf("envelope = %+v", resp)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		state      string
		standalone bool
		wantStatus int
	}{
		{"leader", "Leader", false, http.StatusOK},
		{"follower", "Follower", false, http.StatusOK},
		{"candidate", "Candidate", false, http.StatusServiceUnavailable},
		{"standalone replicator", "Standalone", false, http.StatusOK},
		{"read only", "", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			h := env.handler
			if tt.standalone {
				h = New(Config{Container: env.container})
			} else {
				env.replicator.state = tt.state
			}

			rec, _ := do(t, h, http.MethodGet, "/ready", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	req := OpenSessionRequest{
		ID:               7,
		ResponseStreamID: 102,
		ResponseChannel:  "aeron:udp?endpoint=client:9000",
		EncodedPrincipal: []byte("alice"),
	}
	rec, resp := do(t, env.handler, http.MethodPost, "/v1/sessions", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d, want 201 (%+v)", rec.Code, resp)
	}
	var opened SessionResponse
	decodeData(t, resp, &opened)
	if opened.ID != 7 || opened.PrincipalLength != 5 {
		t.Errorf("opened = %+v", opened)
	}
	if env.container.SessionCount() != 1 {
		t.Fatalf("SessionCount = %d, want 1", env.container.SessionCount())
	}

	rec, resp = do(t, env.handler, http.MethodPost, "/v1/sessions", req)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}
	if resp.Code != domain.ErrSessionExists.Code {
		t.Errorf("duplicate code = %s", resp.Code)
	}

	rec, resp = do(t, env.handler, http.MethodGet, "/v1/sessions/7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got SessionResponse
	decodeData(t, resp, &got)
	if got.ResponseChannel != req.ResponseChannel || got.ResponseStreamID != 102 {
		t.Errorf("got = %+v", got)
	}

	rec, resp = do(t, env.handler, http.MethodGet, "/v1/sessions", nil)
	var list ListSessionsResponse
	decodeData(t, resp, &list)
	if rec.Code != http.StatusOK || list.Total != 1 {
		t.Errorf("list status = %d, total = %d", rec.Code, list.Total)
	}

	rec, _ = do(t, env.handler, http.MethodPost, "/v1/sessions/7/close", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("close status = %d", rec.Code)
	}

	rec, resp = do(t, env.handler, http.MethodGet, "/v1/sessions/7", nil)
	if rec.Code != http.StatusNotFound || resp.Code != domain.ErrSessionNotFound.Code {
		t.Errorf("get closed: status = %d, code = %s", rec.Code, resp.Code)
	}
}

func TestSessions_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		setup      func()
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid body",
			method:     http.MethodPost,
			path:       "/v1/sessions",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidBody,
		},
		{
			name:       "invalid id",
			method:     http.MethodGet,
			path:       "/v1/sessions/abc",
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidID,
		},
		{
			name:   "oversized channel",
			method: http.MethodPost,
			path:   "/v1/sessions",
			body: OpenSessionRequest{
				ID:              1,
				ResponseChannel: strings.Repeat("x", domain.MaxResponseChannelLength+1),
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.ErrInvalidArgument.Code,
		},
		{
			name:       "close unknown",
			method:     http.MethodPost,
			path:       "/v1/sessions/99/close",
			wantStatus: http.StatusNotFound,
			wantCode:   domain.ErrSessionNotFound.Code,
		},
		{
			name:       "not leader",
			method:     http.MethodPost,
			path:       "/v1/sessions",
			body:       OpenSessionRequest{ID: 2, ResponseChannel: "aeron:ipc"},
			setup:      func() { env.replicator.err = raftnode.ErrNotLeader },
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeNotLeader,
		},
		{
			name:       "internal",
			method:     http.MethodPost,
			path:       "/v1/sessions/3/close",
			setup:      func() { env.replicator.err = errors.New("disk on fire") },
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.replicator.err = nil
			if tt.setup != nil {
				tt.setup()
			}
			rec, resp := do(t, env.handler, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
			if rec.Header().Get("X-Error-Code") != tt.wantCode {
				t.Errorf("X-Error-Code = %q", rec.Header().Get("X-Error-Code"))
			}
		})
	}
}

func TestSessions_NoReplicator(t *testing.T) {
	env := newTestEnv(t)
	h := New(Config{Container: env.container})

	rec, resp := do(t, h, http.MethodPost, "/v1/sessions", OpenSessionRequest{ID: 1})
	if rec.Code != http.StatusServiceUnavailable || resp.Code != CodeUnavailable {
		t.Errorf("status = %d, code = %s", rec.Code, resp.Code)
	}
}

func TestSnapshots_CaptureListGetPrune(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []int64{1, 2, 3} {
		if err := env.container.OpenSession(&domain.ClientSession{ID: id, ResponseStreamID: 10, ResponseChannel: "aeron:ipc"}); err != nil {
			t.Fatal(err)
		}
	}

	rec, resp := do(t, env.handler, http.MethodPost, "/v1/snapshots", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("capture status = %d (%+v)", rec.Code, resp)
	}
	var first SnapshotResponse
	decodeData(t, resp, &first)
	if first.LogPosition != 120 || first.LeadershipTermID != 3 {
		t.Errorf("position = %d/%d, want 120/3", first.LogPosition, first.LeadershipTermID)
	}
	if first.SessionCount != 3 || first.AppVersion != "2.1.0" || first.TimeUnit != "MICROS" {
		t.Errorf("first = %+v", first)
	}

	rec, resp = do(t, env.handler, http.MethodGet, "/v1/snapshots/"+first.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec, resp = do(t, env.handler, http.MethodGet, "/v1/snapshots/01NOTAREALSNAPSHOT", nil)
	if rec.Code != http.StatusNotFound || resp.Code != domain.ErrSnapshotNotFound.Code {
		t.Errorf("missing: status = %d, code = %s", rec.Code, resp.Code)
	}

	if _, err := env.archive.Capture(context.Background(), env.container, 240, 3); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	rec, resp = do(t, env.handler, http.MethodGet, "/v1/snapshots", nil)
	var list ListSnapshotsResponse
	decodeData(t, resp, &list)
	if rec.Code != http.StatusOK || list.Total != 2 {
		t.Fatalf("list status = %d, total = %d", rec.Code, list.Total)
	}

	rec, resp = do(t, env.handler, http.MethodPost, "/v1/snapshots/prune", nil)
	var pruned PruneSnapshotsResponse
	decodeData(t, resp, &pruned)
	if rec.Code != http.StatusOK {
		t.Fatalf("prune status = %d", rec.Code)
	}
	if len(pruned.Removed) != 1 || pruned.Removed[0] != first.ID {
		t.Errorf("removed = %v, want [%s]", pruned.Removed, first.ID)
	}
}

func TestSnapshots_NoArchive(t *testing.T) {
	env := newTestEnv(t)
	h := New(Config{Container: env.container})

	for _, path := range []string{"/v1/snapshots", "/v1/snapshots/x"} {
		rec, resp := do(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusServiceUnavailable || resp.Code != CodeUnavailable {
			t.Errorf("%s: status = %d, code = %s", path, rec.Code, resp.Code)
		}
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.ErrSessionNotFound.Code, http.StatusNotFound},
		{domain.ErrSnapshotNotFound.Code, http.StatusNotFound},
		{domain.ErrSessionExists.Code, http.StatusConflict},
		{domain.ErrIncompatibleAppVersion.Code, http.StatusConflict},
		{domain.ErrSessionTooLarge.Code, http.StatusRequestEntityTooLarge},
		{domain.ErrInvalidArgument.Code, http.StatusBadRequest},
		{domain.ErrUnexpectedSchema.Code, http.StatusUnprocessableEntity},
		{domain.ErrIncompleteSnapshot.Code, http.StatusUnprocessableEntity},
		{domain.ErrUnexpectedPublicationState.Code, http.StatusServiceUnavailable},
		{domain.ErrAgentTerminated.Code, http.StatusServiceUnavailable},
		{"CS-XYZ-0000", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorCodeToHTTPStatus(tt.code); got != tt.want {
			t.Errorf("errorCodeToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
