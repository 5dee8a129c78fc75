package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/server/httpserver/handler"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
)

func TestNew(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s := New(":8080", h, WithTimeouts(3*time.Second, 4*time.Second), WithLogger(nil))
	if s.httpServer.Addr != ":8080" {
		t.Errorf("Addr = %q", s.httpServer.Addr)
	}
	if s.httpServer.ReadTimeout != 3*time.Second || s.httpServer.WriteTimeout != 4*time.Second {
		t.Errorf("timeouts = %v/%v", s.httpServer.ReadTimeout, s.httpServer.WriteTimeout)
	}
	if s.logger == nil {
		t.Error("nil logger option should keep the default logger")
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := New(ln.Addr().String(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "pong")
	}), WithLogger(discardLogger()))

	errChan := make(chan error, 1)
	go func() { errChan <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Serve returned %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for Serve to return")
	}
}

func TestNewRouter(t *testing.T) {
	metrics := metric.NewRegistry()
	container := service.NewContainer(service.ContainerConfig{})
	router := NewRouter(&RouterConfig{
		Handler:     handler.New(handler.Config{Container: container}),
		Metrics:     metrics,
		MetricsPath: "/metrics",
		Logger:      discardLogger(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/sessions: status %d", rec.Code)
	}
	requestID := rec.Header().Get("X-Request-ID")
	if !strings.HasPrefix(requestID, "req-") {
		t.Errorf("X-Request-ID = %q", requestID)
	}
	var resp handler.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequestID != requestID {
		t.Errorf("envelope request_id = %q, want %q", resp.RequestID, requestID)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `clustersnap_requests_total{method="GET",path="GET /v1/sessions",status="200"} 1`) {
		t.Errorf("request metric missing from scrape:\n%s", rec.Body.String())
	}
}

func TestNewRouter_MetricsDisabled(t *testing.T) {
	router := NewRouter(&RouterConfig{
		Handler:         handler.New(handler.Config{Container: service.NewContainer(service.ContainerConfig{})}),
		GlobalRateLimit: 100,
		Logger:          discardLogger(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics: status %d, want 404", rec.Code)
	}
}
