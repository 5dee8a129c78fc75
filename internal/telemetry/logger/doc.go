// Package logger provides structured logging for clustersnap.
//
// It wraps log/slog:
//
//   - logger.go: handler construction, dynamic level, global default
//   - context.go: context-carried loggers with node and snapshot ids
//   - redact.go: redaction of principals and credentials
//
// Components accept a *slog.Logger; Logger.Slog() hands them the
// configured one so redaction and the dynamic level apply everywhere.
package logger
