package metric

import "github.com/prometheus/client_golang/prometheus"

// ContainerStats is a point-in-time view of a service container.
type ContainerStats struct {
	Sessions             int
	LastSnapshotPosition int64
	AppVersion           int32
}

// Collector exposes ContainerStats on every scrape.
type Collector struct {
	stats func() ContainerStats

	sessions     *prometheus.Desc
	lastPosition *prometheus.Desc
	appVersion   *prometheus.Desc
}

// NewCollector creates a collector reading from stats.
func NewCollector(stats func() ContainerStats) *Collector {
	return &Collector{
		stats: stats,
		sessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "container", "sessions"),
			"Client sessions held by the container.", nil, nil),
		lastPosition: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "container", "last_snapshot_position"),
			"Log position of the last snapshot taken or loaded.", nil, nil),
		appVersion: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "container", "app_version"),
			"Application version recorded in the last snapshot.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.lastPosition
	ch <- c.appVersion
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.Sessions))
	ch <- prometheus.MustNewConstMetric(c.lastPosition, prometheus.GaugeValue, float64(s.LastSnapshotPosition))
	ch <- prometheus.MustNewConstMetric(c.appVersion, prometheus.GaugeValue, float64(s.AppVersion))
}
