// Package main provides the entry point for clustersnap.
//
// clustersnap runs a clustered service node whose client sessions are
// replicated with raft and persisted as snapshots, and manages the
// snapshot archive of a data directory offline:
//
//   - serve: run a node (raft or standalone) with the HTTP API and /metrics
//   - snapshot take|inspect|list|verify|prune|delete: archive management
//   - config show|test: inspect and validate configuration
//   - version: build information
//
// Usage:
//
//	clustersnap --config /etc/clustersnap/clustersnap.yaml serve --bootstrap
//	clustersnap --data-dir /var/lib/clustersnap/data snapshot list -o json
//	clustersnap snapshot take --sessions sessions.yaml --log-position 4096
//
// Build information is injected with -ldflags, see internal/infra/buildinfo.
package main
