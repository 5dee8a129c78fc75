package logger

import "context"

type contextKey string

const (
	loggerKey     contextKey = "clustersnap.logger"
	nodeIDKey     contextKey = "clustersnap.node_id"
	snapshotIDKey contextKey = "clustersnap.snapshot_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithNodeID adds the cluster node id to the context.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// NodeIDFromContext extracts the node id from context.
func NodeIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(nodeIDKey).(string)
	return id
}

// WithSnapshotID adds a snapshot recording id to the context.
func WithSnapshotID(ctx context.Context, snapshotID string) context.Context {
	return context.WithValue(ctx, snapshotIDKey, snapshotID)
}

// SnapshotIDFromContext extracts the snapshot recording id from context.
func SnapshotIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(snapshotIDKey).(string)
	return id
}

// L is a shorthand for FromContext that also enriches the logger
// with the node id and snapshot id carried by the context.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if id := NodeIDFromContext(ctx); id != "" {
		l = l.With("node_id", id)
	}
	if id := SnapshotIDFromContext(ctx); id != "" {
		l = l.With("snapshot_id", id)
	}
	return l
}
