// Package handler implements the clustersnap HTTP API: health and
// readiness checks, the registered client sessions, and the snapshot
// archive.
package handler
