package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/storage"
	"github.com/yndnr/clustersnap-go/internal/storage/snapshot"
	"github.com/yndnr/clustersnap-go/internal/storage/wal"
	"github.com/yndnr/clustersnap-go/internal/telemetry/logger"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
	"github.com/yndnr/clustersnap-go/pkg/idle"
)

// Subdirectories of storage.data_dir.
const (
	SnapshotsDirName = "snapshots"
	CatalogDirName   = "catalog"
	RaftDirName      = "raft"
)

// LoggerConfig returns the logger configuration.
func (c *ServerConfig) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

// CatalogConfig returns the badger configuration of the snapshot catalog.
func (c *ServerConfig) CatalogConfig() storage.KVConfig {
	kc := storage.DefaultKVConfig(filepath.Join(c.Storage.DataDir, CatalogDirName))
	if c.Storage.CatalogGCInterval > 0 {
		kc.Badger.GCInterval = c.Storage.CatalogGCInterval.String()
	}
	return kc
}

// SnapshotManagerConfig returns the recording archive configuration.
func (c *ServerConfig) SnapshotManagerConfig(log *slog.Logger) (snapshot.Config, error) {
	enc, err := c.Storage.Encryption.Build()
	if err != nil {
		return snapshot.Config{}, fmt.Errorf("storage.encryption: %w", err)
	}

	sc := snapshot.DefaultConfig(filepath.Join(c.Storage.DataDir, SnapshotsDirName))
	sc.RetentionCount = c.Storage.SnapshotKeep
	sc.RetentionDays = c.Storage.RetentionDays
	if c.Storage.SegmentMaxSize > 0 {
		sc.SegmentSize = c.Storage.SegmentMaxSize
	}
	sc.MaxPayloadLength = c.Snapshot.MaxPayloadLength
	if c.Storage.SyncMode != "" {
		sc.SyncMode = wal.SyncMode(c.Storage.SyncMode)
	}
	if c.Storage.SyncInterval > 0 {
		sc.SyncInterval = c.Storage.SyncInterval
	}
	sc.Encryption = enc
	sc.Logger = log
	return sc, nil
}

// ContainerConfig returns the service container configuration. The
// configuration must have passed Verify.
func (c *ServerConfig) ContainerConfig(log *slog.Logger, metrics *metric.Registry) (service.ContainerConfig, error) {
	version, err := service.ParseVersion(c.Snapshot.AppVersion)
	if err != nil {
		return service.ContainerConfig{}, err
	}
	unit, err := codec.ParseTimeUnit(c.Snapshot.TimeUnit)
	if err != nil {
		return service.ContainerConfig{}, err
	}
	if _, err := c.Snapshot.Idle.Build(); err != nil {
		return service.ContainerConfig{}, err
	}

	idleCfg := c.Snapshot.Idle
	cc := service.ContainerConfig{
		SnapshotTypeID:   c.Snapshot.TypeID,
		AppVersion:       version,
		TimeUnit:         unit,
		FragmentLimit:    c.Snapshot.FragmentLimit,
		MaxPayloadLength: c.Snapshot.MaxPayloadLength,
		NewIdleStrategy: func() idle.Strategy {
			s, _ := idleCfg.Build()
			return s
		},
		Logger:  log,
		Metrics: metrics,
	}
	if c.Snapshot.RequireSameMajor {
		cc.AppVersionValidator = service.SameMajorVersion
	}
	return cc, nil
}

// RaftDataDir returns cluster.data_dir, defaulting under storage.data_dir.
func (c *ServerConfig) RaftDataDir() string {
	if c.Cluster.DataDir != "" {
		return c.Cluster.DataDir
	}
	return filepath.Join(c.Storage.DataDir, RaftDirName)
}

// ResolveNodeID returns cluster.node_id, generating one if empty.
func (c *ServerConfig) ResolveNodeID() (string, error) {
	if c.Cluster.NodeID != "" {
		return c.Cluster.NodeID, nil
	}
	id, err := generateNodeID()
	if err != nil {
		return "", fmt.Errorf("generate node ID: %w", err)
	}
	return id, nil
}

// generateNodeID generates a unique node identifier.
//
// Format: csnode-<16 hex chars> (e.g., "csnode-a1b2c3d4e5f67890")
func generateNodeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "csnode-" + hex.EncodeToString(buf), nil
}
