package config

import "time"

// ServerConfig is the root configuration for clustersnap.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server" yaml:"server" json:"server"`
	Log      LogSection      `koanf:"log" yaml:"log" json:"log"`
	Storage  StorageSection  `koanf:"storage" yaml:"storage" json:"storage"`
	Snapshot SnapshotSection `koanf:"snapshot" yaml:"snapshot" json:"snapshot"`
	Cluster  ClusterSection  `koanf:"cluster" yaml:"cluster" json:"cluster"`
	Metrics  MetricsSection  `koanf:"metrics" yaml:"metrics" json:"metrics"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http" yaml:"http" json:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit int `koanf:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level" json:"level"`
	Format string `koanf:"format" yaml:"format" json:"format"`
}

// StorageSection configures the snapshot archive.
type StorageSection struct {
	// DataDir holds the snapshot recordings and the catalog.
	DataDir string `koanf:"data_dir" yaml:"data_dir" json:"data_dir"`

	// SnapshotKeep is the number of newest recordings that are never pruned.
	SnapshotKeep int `koanf:"snapshot_keep" yaml:"snapshot_keep" json:"snapshot_keep"`

	// RetentionDays prunes recordings older than this beyond SnapshotKeep.
	// Negative disables age-based pruning.
	RetentionDays int `koanf:"retention_days" yaml:"retention_days" json:"retention_days"`

	// SegmentMaxSize rotates recording segments at this size in bytes.
	SegmentMaxSize int64 `koanf:"segment_max_size" yaml:"segment_max_size" json:"segment_max_size"`

	// SyncMode is "sync" (fsync each message) or "batch".
	SyncMode string `koanf:"sync_mode" yaml:"sync_mode" json:"sync_mode"`

	// SyncInterval is the fsync period in batch mode.
	SyncInterval time.Duration `koanf:"sync_interval" yaml:"sync_interval" json:"sync_interval"`

	// CatalogGCInterval is the badger value log GC period.
	CatalogGCInterval time.Duration `koanf:"catalog_gc_interval" yaml:"catalog_gc_interval" json:"catalog_gc_interval"`

	Encryption EncryptionSection `koanf:"encryption" yaml:"encryption" json:"encryption"`
}

// EncryptionSection configures encryption of recordings at rest. Set at
// most one of Key or Passphrase; neither leaves recordings in plaintext.
type EncryptionSection struct {
	// Key is a hex-encoded key of at least 16 bytes.
	Key string `koanf:"key" yaml:"key" json:"key"`

	// Passphrase is stretched with argon2id.
	Passphrase string `koanf:"passphrase" yaml:"passphrase" json:"passphrase"`

	// Algorithm is aes-gcm or chacha20-poly1305. Empty picks by CPU.
	Algorithm string `koanf:"algorithm" yaml:"algorithm" json:"algorithm"`
}

// SnapshotSection configures how snapshots are taken and loaded.
type SnapshotSection struct {
	// TypeID marks the snapshots of this service.
	TypeID int64 `koanf:"type_id" yaml:"type_id" json:"type_id"`

	// AppVersion is the application version as "major.minor.patch".
	AppVersion string `koanf:"app_version" yaml:"app_version" json:"app_version"`

	// RequireSameMajor rejects snapshots from a different major version.
	RequireSameMajor bool `koanf:"require_same_major" yaml:"require_same_major" json:"require_same_major"`

	// TimeUnit is the cluster clock unit: millis, micros, nanos or seconds.
	TimeUnit string `koanf:"time_unit" yaml:"time_unit" json:"time_unit"`

	// FragmentLimit caps fragments per loader poll.
	FragmentLimit int `koanf:"fragment_limit" yaml:"fragment_limit" json:"fragment_limit"`

	// MaxPayloadLength bounds a single snapshot message.
	MaxPayloadLength int `koanf:"max_payload_length" yaml:"max_payload_length" json:"max_payload_length"`

	Idle IdleConfig `koanf:"idle" yaml:"idle" json:"idle"`

	// Interval and Threshold drive raft's automatic snapshots.
	Interval  time.Duration `koanf:"interval" yaml:"interval" json:"interval"`
	Threshold uint64        `koanf:"threshold" yaml:"threshold" json:"threshold"`
}

// IdleConfig selects the idle strategy used while retrying claims and
// polling snapshot images.
type IdleConfig struct {
	Strategy  string        `koanf:"strategy" yaml:"strategy" json:"strategy"`
	Period    time.Duration `koanf:"period" yaml:"period" json:"period"`
	MaxSpins  int           `koanf:"max_spins" yaml:"max_spins" json:"max_spins"`
	MaxYields int           `koanf:"max_yields" yaml:"max_yields" json:"max_yields"`
	MinPark   time.Duration `koanf:"min_park" yaml:"min_park" json:"min_park"`
	MaxPark   time.Duration `koanf:"max_park" yaml:"max_park" json:"max_park"`
}

// ClusterSection configures the raft node.
type ClusterSection struct {
	// NodeID is the unique identifier for this cluster node.
	// If empty, a random ID will be generated at startup.
	NodeID string `koanf:"node_id" yaml:"node_id" json:"node_id"`

	// RaftAddr is the Raft TCP bind address (e.g., "192.168.1.10:5343").
	RaftAddr string `koanf:"raft_addr" yaml:"raft_addr" json:"raft_addr"`

	// Bootstrap indicates if this node bootstraps a new cluster.
	Bootstrap bool `koanf:"bootstrap" yaml:"bootstrap" json:"bootstrap"`

	// DataDir is the directory for Raft log and snapshot storage.
	DataDir string `koanf:"data_dir" yaml:"data_dir" json:"data_dir"`

	// ApplyTimeout bounds a single replicated command.
	ApplyTimeout time.Duration `koanf:"apply_timeout" yaml:"apply_timeout" json:"apply_timeout"`
}

// MetricsSection configures the prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `koanf:"path" yaml:"path" json:"path"`
}
