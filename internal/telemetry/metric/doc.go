// Package metric provides Prometheus metrics for clustersnap.
//
//   - prometheus.go: the metric registry, helpers and /metrics handler
//   - collector.go: a pull collector over live container state
//
// All helpers are safe on a nil *Registry so components can run without
// metrics in tests.
package metric
