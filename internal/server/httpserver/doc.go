// Package httpserver provides the HTTP server for clustersnap.
//
// It uses the Go standard library net/http with the handler package for
// the API routes, promhttp for /metrics, and a small middleware chain:
// panic recovery, request IDs, access logging with request metrics, and
// per-client rate limiting.
package httpserver
