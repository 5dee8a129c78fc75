package metric

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.registry == nil {
		t.Error("registry field is nil")
	}
	if r.MarkersWritten == nil || r.ClaimRetries == nil || r.SnapshotDuration == nil {
		t.Error("snapshot metrics not initialized")
	}
}

func TestGlobal(t *testing.T) {
	if Global() != Global() {
		t.Error("Global() should return the same instance")
	}
}

func TestHandler(t *testing.T) {
	body := scrape(t, Handler())
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected go_goroutines metric")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics")
	}
}

func TestSnapshotWriterMetrics(t *testing.T) {
	r := NewRegistry()

	r.IncMarker("BEGIN")
	r.IncMarker("END")
	r.IncSessionWritten()
	r.IncSessionWritten()
	r.IncClaimRetry("BACK_PRESSURED")
	r.IncClaimRetry("BACK_PRESSURED")
	r.IncClaimRetry("ADMIN_ACTION")
	r.IncPublicationFailure("CLOSED")

	body := scrape(t, r.Handler())
	for _, want := range []string{
		`clustersnap_snapshot_markers_written_total{mark="BEGIN"} 1`,
		`clustersnap_snapshot_markers_written_total{mark="END"} 1`,
		`clustersnap_snapshot_sessions_written_total 2`,
		`clustersnap_snapshot_claim_retries_total{result="BACK_PRESSURED"} 2`,
		`clustersnap_snapshot_claim_retries_total{result="ADMIN_ACTION"} 1`,
		`clustersnap_snapshot_publication_failures_total{result="CLOSED"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s", want)
		}
	}
}

func TestSnapshotLifecycleMetrics(t *testing.T) {
	r := NewRegistry()

	r.AddSessionsLoaded(3)
	r.IncLoadError("CS-PROT-4003")
	r.IncLoadError("")
	r.ObserveSnapshot("take", nil, 10*time.Millisecond)
	r.ObserveSnapshot("load", errors.New("boom"), time.Millisecond)
	r.SetCatalogEntries(4)
	r.SetSessionsActive(2)

	body := scrape(t, r.Handler())
	for _, want := range []string{
		`clustersnap_snapshot_sessions_loaded_total 3`,
		`clustersnap_snapshot_load_errors_total{code="CS-PROT-4003"} 1`,
		`clustersnap_snapshot_load_errors_total{code="unknown"} 1`,
		`clustersnap_snapshots_total{op="take",outcome="ok"} 1`,
		`clustersnap_snapshots_total{op="load",outcome="error"} 1`,
		`clustersnap_snapshot_duration_seconds_count{op="take"} 1`,
		`clustersnap_snapshot_catalog_entries 4`,
		`clustersnap_sessions_active 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s", want)
		}
	}
}

func TestRequestMetrics(t *testing.T) {
	r := NewRegistry()
	r.RecordRequest("GET", "/health", "200", 5*time.Millisecond)
	r.RecordRequest("GET", "/health", "200", time.Millisecond)

	body := scrape(t, r.Handler())
	if !strings.Contains(body, `clustersnap_requests_total{method="GET",path="/health",status="200"} 2`) {
		t.Error("expected clustersnap_requests_total for GET /health 200")
	}
	if !strings.Contains(body, "clustersnap_request_duration_seconds_bucket") {
		t.Error("expected clustersnap_request_duration_seconds_bucket")
	}
}

func TestNilRegistryIsNoOp(t *testing.T) {
	var r *Registry
	r.IncMarker("BEGIN")
	r.IncClaimRetry("BACK_PRESSURED")
	r.ObserveSnapshot("take", nil, time.Second)
	r.SetSessionsActive(1)
	if r.Prometheus() != nil {
		t.Error("nil registry returned a prometheus registry")
	}
}

func TestCollector(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCollector(func() ContainerStats {
		return ContainerStats{Sessions: 5, LastSnapshotPosition: 1000, AppVersion: 3}
	}))

	body := scrape(t, r.Handler())
	for _, want := range []string{
		"clustersnap_container_sessions 5",
		"clustersnap_container_last_snapshot_position 1000",
		"clustersnap_container_app_version 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s", want)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.IncMarker("BEGIN")
				r.IncClaimRetry("BACK_PRESSURED")
				r.RecordRequest("GET", "/metrics", "200", time.Microsecond)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	body := scrape(t, r.Handler())
	if !strings.Contains(body, `clustersnap_snapshot_markers_written_total{mark="BEGIN"} 1000`) {
		t.Error("expected 1000 BEGIN markers")
	}
}
