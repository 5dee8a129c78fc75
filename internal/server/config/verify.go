package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/storage/snapshot"
	"github.com/yndnr/clustersnap-go/internal/telemetry/logger"
	"github.com/yndnr/clustersnap-go/pkg/idle"
)

// MaxPayloadLimit bounds snapshot.max_payload_length.
const MaxPayloadLimit = 1 << 20

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyLog(&cfg.Log); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifySnapshot(&cfg.Snapshot); err != nil {
		return err
	}
	if err := verifyCluster(&cfg.Cluster); err != nil {
		return err
	}
	return verifyMetrics(&cfg.Metrics)
}

// VerifyOffline validates the sections used by offline tools, which
// neither serve HTTP nor join a cluster.
func VerifyOffline(cfg *ServerConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := verifyLog(&cfg.Log); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	return verifySnapshot(&cfg.Snapshot)
}

func verifyServer(cfg *ServerSection) error {
	if err := verifyAddr("server.http.addr", cfg.HTTP.Addr); err != nil {
		return err
	}
	if cfg.HTTP.ShutdownTimeout < 0 {
		return errors.New("server.http.shutdown_timeout must not be negative")
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("server.http.rate_limit must not be negative")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Format)
	}
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if cfg.SnapshotKeep < 1 {
		return errors.New("storage.snapshot_keep must be at least 1")
	}
	if cfg.SegmentMaxSize < 0 {
		return errors.New("storage.segment_max_size must not be negative")
	}
	switch cfg.SyncMode {
	case "", "sync", "batch":
	default:
		return fmt.Errorf("storage.sync_mode must be sync or batch, got %q", cfg.SyncMode)
	}
	if _, err := cfg.Encryption.Build(); err != nil {
		return fmt.Errorf("storage.encryption: %w", err)
	}
	return nil
}

func verifySnapshot(cfg *SnapshotSection) error {
	if _, err := service.ParseVersion(cfg.AppVersion); err != nil {
		return fmt.Errorf("snapshot.app_version: %w", err)
	}
	if _, err := codec.ParseTimeUnit(cfg.TimeUnit); err != nil {
		return fmt.Errorf("snapshot.time_unit: %w", err)
	}
	if cfg.FragmentLimit < 1 {
		return errors.New("snapshot.fragment_limit must be at least 1")
	}
	if cfg.MaxPayloadLength < codec.MaxClientSessionEncodedLength || cfg.MaxPayloadLength > MaxPayloadLimit {
		return fmt.Errorf("snapshot.max_payload_length must be in [%d, %d]",
			codec.MaxClientSessionEncodedLength, MaxPayloadLimit)
	}
	if _, err := cfg.Idle.Build(); err != nil {
		return fmt.Errorf("snapshot.idle: %w", err)
	}
	return nil
}

func verifyCluster(cfg *ClusterSection) error {
	if cfg.RaftAddr == "" {
		return nil
	}
	if err := verifyAddr("cluster.raft_addr", cfg.RaftAddr); err != nil {
		return err
	}
	if cfg.ApplyTimeout <= 0 {
		return errors.New("cluster.apply_timeout must be positive")
	}
	return nil
}

func verifyMetrics(cfg *MetricsSection) error {
	if cfg.Enabled && !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", cfg.Path)
	}
	return nil
}

func verifyAddr(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Build decodes and validates the encryption settings.
func (c EncryptionSection) Build() (snapshot.EncryptionConfig, error) {
	ec := snapshot.EncryptionConfig{Algorithm: c.Algorithm}
	if c.Key != "" {
		key, err := hex.DecodeString(c.Key)
		if err != nil {
			return snapshot.EncryptionConfig{}, fmt.Errorf("key must be hex: %w", err)
		}
		ec.Key = key
	}
	if c.Passphrase != "" {
		ec.Passphrase = []byte(c.Passphrase)
	}
	if err := ec.Validate(); err != nil {
		return snapshot.EncryptionConfig{}, err
	}
	return ec, nil
}

// Build creates the configured idle strategy.
func (c IdleConfig) Build() (idle.Strategy, error) {
	return idle.Parse(c.Strategy, c.Period, idle.BackoffConfig{
		MaxSpins:  c.MaxSpins,
		MaxYields: c.MaxYields,
		MinPark:   c.MinPark,
		MaxPark:   c.MaxPark,
	})
}
