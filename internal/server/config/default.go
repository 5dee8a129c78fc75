package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr            = "127.0.0.1:5080"
	DefaultHTTPReadTimeout     = 10 * time.Second
	DefaultHTTPWriteTimeout    = 30 * time.Second
	DefaultHTTPShutdownTimeout = 15 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultDataDir           = "/var/lib/clustersnap/data"
	DefaultSnapshotKeep      = 5
	DefaultRetentionDays     = 7
	DefaultSegmentMaxSize    = 64 * 1024 * 1024
	DefaultSyncMode          = "batch"
	DefaultSyncInterval      = time.Second
	DefaultCatalogGCInterval = 10 * time.Minute

	DefaultSnapshotTypeID    = 2
	DefaultAppVersion        = "0.0.0"
	DefaultTimeUnit          = "millis"
	DefaultFragmentLimit     = 10
	DefaultMaxPayloadLength  = 16 * 1024
	DefaultIdleStrategy      = "backoff"
	DefaultSnapshotInterval  = 2 * time.Minute
	DefaultSnapshotThreshold = 8192

	DefaultRaftAddr     = "127.0.0.1:5343"
	DefaultApplyTimeout = 5 * time.Second

	DefaultMetricsPath = "/metrics"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:            DefaultHTTPAddr,
				ReadTimeout:     DefaultHTTPReadTimeout,
				WriteTimeout:    DefaultHTTPWriteTimeout,
				ShutdownTimeout: DefaultHTTPShutdownTimeout,
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Storage: StorageSection{
			DataDir:           DefaultDataDir,
			SnapshotKeep:      DefaultSnapshotKeep,
			RetentionDays:     DefaultRetentionDays,
			SegmentMaxSize:    DefaultSegmentMaxSize,
			SyncMode:          DefaultSyncMode,
			SyncInterval:      DefaultSyncInterval,
			CatalogGCInterval: DefaultCatalogGCInterval,
		},
		Snapshot: SnapshotSection{
			TypeID:           DefaultSnapshotTypeID,
			AppVersion:       DefaultAppVersion,
			TimeUnit:         DefaultTimeUnit,
			FragmentLimit:    DefaultFragmentLimit,
			MaxPayloadLength: DefaultMaxPayloadLength,
			Idle: IdleConfig{
				Strategy: DefaultIdleStrategy,
			},
			Interval:  DefaultSnapshotInterval,
			Threshold: DefaultSnapshotThreshold,
		},
		Cluster: ClusterSection{
			RaftAddr:     DefaultRaftAddr,
			ApplyTimeout: DefaultApplyTimeout,
		},
		Metrics: MetricsSection{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}
