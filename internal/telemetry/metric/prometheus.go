package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clustersnap"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Snapshot writer metrics
	MarkersWritten      *prometheus.CounterVec
	SessionsWritten     prometheus.Counter
	ClaimRetries        *prometheus.CounterVec
	PublicationFailures *prometheus.CounterVec

	// Snapshot reader metrics
	SessionsLoaded prometheus.Counter
	LoadErrors     *prometheus.CounterVec

	// Snapshot lifecycle
	SnapshotDuration *prometheus.HistogramVec
	SnapshotsTotal   *prometheus.CounterVec
	CatalogEntries   prometheus.Gauge

	// Container state
	SessionsActive prometheus.Gauge

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var (
	globalOnce     sync.Once
	globalRegistry *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,

		MarkersWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_markers_written_total",
			Help:      "Snapshot markers appended, by mark.",
		}, []string{"mark"}),
		SessionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_sessions_written_total",
			Help:      "Client session records appended to snapshots.",
		}),
		ClaimRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_claim_retries_total",
			Help:      "TryClaim attempts that returned a transient result.",
		}, []string{"result"}),
		PublicationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_publication_failures_total",
			Help:      "Snapshot writes aborted by a terminal publication result.",
		}, []string{"result"}),

		SessionsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_sessions_loaded_total",
			Help:      "Client sessions reinstated from snapshots.",
		}),
		LoadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_load_errors_total",
			Help:      "Snapshot loads failed, by error code.",
		}, []string{"code"}),

		SnapshotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Time to take or load a snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"op"}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots taken or loaded, by op and outcome.",
		}, []string{"op", "outcome"}),
		CatalogEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_catalog_entries",
			Help:      "Snapshot recordings in the catalog.",
		}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Client sessions registered with the container.",
		}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		r.MarkersWritten,
		r.SessionsWritten,
		r.ClaimRetries,
		r.PublicationFailures,
		r.SessionsLoaded,
		r.LoadErrors,
		r.SnapshotDuration,
		r.SnapshotsTotal,
		r.CatalogEntries,
		r.SessionsActive,
		r.RequestsTotal,
		r.RequestDuration,
	)
	return r
}

// Prometheus returns the underlying registry for components that register
// their own collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	if r == nil {
		return
	}
	r.registry.MustRegister(cs...)
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// IncMarker counts an appended snapshot marker.
func (r *Registry) IncMarker(mark string) {
	if r == nil {
		return
	}
	r.MarkersWritten.WithLabelValues(mark).Inc()
}

// IncSessionWritten counts an appended client session record.
func (r *Registry) IncSessionWritten() {
	if r == nil {
		return
	}
	r.SessionsWritten.Inc()
}

// IncClaimRetry counts a transient TryClaim result.
func (r *Registry) IncClaimRetry(result string) {
	if r == nil {
		return
	}
	r.ClaimRetries.WithLabelValues(result).Inc()
}

// IncPublicationFailure counts a terminal TryClaim result.
func (r *Registry) IncPublicationFailure(result string) {
	if r == nil {
		return
	}
	r.PublicationFailures.WithLabelValues(result).Inc()
}

// AddSessionsLoaded counts reinstated client sessions.
func (r *Registry) AddSessionsLoaded(n int) {
	if r == nil {
		return
	}
	r.SessionsLoaded.Add(float64(n))
}

// IncLoadError counts a failed load by error code.
func (r *Registry) IncLoadError(code string) {
	if r == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	r.LoadErrors.WithLabelValues(code).Inc()
}

// ObserveSnapshot records the outcome and duration of a take or load.
func (r *Registry) ObserveSnapshot(op string, err error, d time.Duration) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.SnapshotsTotal.WithLabelValues(op, outcome).Inc()
	r.SnapshotDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetCatalogEntries sets the catalog size.
func (r *Registry) SetCatalogEntries(n int) {
	if r == nil {
		return
	}
	r.CatalogEntries.Set(float64(n))
}

// SetSessionsActive sets the registered session count.
func (r *Registry) SetSessionsActive(n int) {
	if r == nil {
		return
	}
	r.SessionsActive.Set(float64(n))
}

// RecordRequest records a served HTTP request.
func (r *Registry) RecordRequest(method, path, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(method, path, status).Inc()
	r.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
