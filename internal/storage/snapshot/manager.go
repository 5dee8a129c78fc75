package snapshot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/logbuffer"
	"github.com/yndnr/clustersnap-go/internal/storage"
	"github.com/yndnr/clustersnap-go/internal/storage/wal"
)

const (
	DefaultRetentionCount = 5
	DefaultRetentionDays  = 7

	// DefaultMaxPayloadLength fits a session record with a maximal
	// response channel and principal.
	DefaultMaxPayloadLength = 16 << 10

	dirPerm = 0750
)

// Config configures the snapshot manager.
type Config struct {
	// Dir holds one subdirectory per recording.
	Dir string

	// RetentionCount and RetentionDays drive Prune. Zero selects the
	// default; a negative value disables that rule.
	RetentionCount int
	RetentionDays  int

	// SegmentSize is the WAL segment rotation size of a recording.
	SegmentSize int64

	// MaxPayloadLength is the largest message a recording accepts.
	MaxPayloadLength int

	// SyncMode and SyncInterval control fsync of recording segments.
	// Empty selects wal.SyncModeBatch.
	SyncMode     wal.SyncMode
	SyncInterval time.Duration

	// Encryption seals new recordings when enabled and opens sealed ones.
	Encryption EncryptionConfig

	Logger *slog.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		RetentionCount:   DefaultRetentionCount,
		RetentionDays:    DefaultRetentionDays,
		SegmentSize:      wal.DefaultMaxFileSize,
		MaxPayloadLength: DefaultMaxPayloadLength,
		SyncMode:         wal.SyncModeBatch,
		SyncInterval:     wal.DefaultSyncInterval,
	}
}

// Meta is the snapshot header recorded in the catalog.
type Meta struct {
	TypeID           int64
	LogPosition      int64
	LeadershipTermID int64
	Index            int32
	AppVersion       int32
	TimeUnit         codec.TimeUnit
}

// Manager stores snapshot recordings as WAL directories and indexes them
// in a catalog.
type Manager struct {
	cfg     Config
	catalog *storage.Catalog
	logger  *slog.Logger

	mu      sync.Mutex
	entropy io.Reader
	active  map[string]struct{}
}

// NewManager creates a manager rooted at cfg.Dir.
func NewManager(cfg Config, catalog *storage.Catalog) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("snapshot: catalog is required")
	}
	if err := os.MkdirAll(cfg.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = wal.DefaultMaxFileSize
	}
	if cfg.MaxPayloadLength == 0 {
		cfg.MaxPayloadLength = DefaultMaxPayloadLength
	}
	if err := cfg.Encryption.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger.With("component", "snapshot"),
		entropy: ulid.Monotonic(rand.Reader, 0),
		active:  make(map[string]struct{}),
	}, nil
}

// Recording is a snapshot being written. Exactly one of Complete or Abort
// must be called.
type Recording struct {
	m       *Manager
	id      string
	dir     string
	meta    Meta
	created time.Time
	writer  *wal.Writer
	sealed  *storage.EncryptionInfo
	done    bool
}

// ID returns the recording id.
func (r *Recording) ID() string { return r.id }

// Dir returns the recording directory.
func (r *Recording) Dir() string { return r.dir }

// Publication returns the channel the snapshot is written to.
func (r *Recording) Publication() logbuffer.Publication { return r.writer }

// Create starts a new recording.
func (m *Manager) Create(meta Meta) (*Recording, error) {
	now := time.Now()

	m.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), m.entropy)
	if err == nil {
		m.active[id.String()] = struct{}{}
	}
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("snapshot: generate id: %w", err)
	}

	dir := filepath.Join(m.cfg.Dir, id.String())
	cfg := wal.DefaultConfig(dir)
	cfg.MaxFileSize = m.cfg.SegmentSize
	cfg.MaxPayloadLength = m.cfg.MaxPayloadLength
	if m.cfg.SyncMode != "" {
		cfg.SyncMode = m.cfg.SyncMode
	}
	if m.cfg.SyncInterval > 0 {
		cfg.SyncInterval = m.cfg.SyncInterval
	}
	cfg.Logger = m.logger

	var sealed *storage.EncryptionInfo
	if m.cfg.Encryption.Enabled() {
		cfg.Cipher, sealed, err = m.cfg.Encryption.newSealer()
		if err != nil {
			m.release(id.String())
			return nil, err
		}
	}

	w, err := wal.NewWriter(cfg)
	if err != nil {
		m.release(id.String())
		return nil, fmt.Errorf("snapshot: open recording: %w", err)
	}

	return &Recording{
		m:       m,
		id:      id.String(),
		dir:     dir,
		meta:    meta,
		created: now,
		writer:  w,
		sealed:  sealed,
	}, nil
}

// Complete finalizes the recording and registers it in the catalog.
func (r *Recording) Complete(ctx context.Context, sessionCount int) (*storage.CatalogEntry, error) {
	if r.done {
		return nil, fmt.Errorf("snapshot: recording %s already finished", r.id)
	}
	r.done = true
	defer r.m.release(r.id)

	if err := r.writer.Close(); err != nil {
		r.discard()
		return nil, fmt.Errorf("snapshot: finalize %s: %w", r.id, err)
	}
	if _, err := wal.VerifyDir(r.dir); err != nil {
		r.discard()
		return nil, fmt.Errorf("snapshot: verify %s: %w", r.id, err)
	}
	size, err := wal.NewCompactor(r.dir).TotalSize()
	if err != nil {
		r.discard()
		return nil, fmt.Errorf("snapshot: size %s: %w", r.id, err)
	}

	entry := &storage.CatalogEntry{
		ID:               r.id,
		TypeID:           r.meta.TypeID,
		LogPosition:      r.meta.LogPosition,
		LeadershipTermID: r.meta.LeadershipTermID,
		Index:            r.meta.Index,
		AppVersion:       r.meta.AppVersion,
		TimeUnit:         r.meta.TimeUnit,
		SessionCount:     sessionCount,
		SizeBytes:        size,
		CreatedAt:        r.created.UTC(),
		Dir:              r.dir,
		Encryption:       r.sealed,
	}
	if err := r.m.catalog.Put(ctx, entry); err != nil {
		r.discard()
		return nil, err
	}

	r.m.logger.Info("snapshot recorded",
		"snapshot_id", r.id,
		"log_position", entry.LogPosition,
		"sessions", sessionCount,
		"size_bytes", size,
		"encrypted", r.sealed != nil)
	return entry, nil
}

// Abort discards the recording.
func (r *Recording) Abort() error {
	if r.done {
		return nil
	}
	r.done = true
	defer r.m.release(r.id)

	_ = r.writer.Close()
	return r.discard()
}

func (r *Recording) discard() error {
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("snapshot: remove %s: %w", r.id, err)
	}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Get returns the catalog entry for id.
func (m *Manager) Get(ctx context.Context, id string) (*storage.CatalogEntry, error) {
	return m.catalog.Get(ctx, id)
}

// Latest returns the newest recording of typeID.
func (m *Manager) Latest(ctx context.Context, typeID int64) (*storage.CatalogEntry, error) {
	return m.catalog.Latest(ctx, typeID)
}

// List returns all recordings, oldest log position first.
func (m *Manager) List(ctx context.Context) ([]*storage.CatalogEntry, error) {
	return m.catalog.List(ctx)
}

// Open returns a reader over the recording with the given id. A sealed
// recording requires the manager's encryption key or passphrase.
func (m *Manager) Open(ctx context.Context, id string) (*wal.Reader, *storage.CatalogEntry, error) {
	entry, err := m.catalog.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	cipher, err := m.cfg.Encryption.cipherFor(entry.Encryption)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: open %s: %w", id, err)
	}
	r, err := wal.NewReader(entry.Dir, wal.WithCipher(cipher))
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: open %s: %w", id, err)
	}
	return r, entry, nil
}

// Verify checks the segment checksums of a recording.
func (m *Manager) Verify(ctx context.Context, id string) error {
	entry, err := m.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	n, err := wal.VerifyDir(entry.Dir)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSnapshotNotFound.WithDetailsf("%s: no segments in %s", id, entry.Dir)
	}
	return nil
}

// Delete removes a recording and its catalog entry.
func (m *Manager) Delete(ctx context.Context, id string) error {
	entry, err := m.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := wal.NewCompactor(entry.Dir).CleanAll(); err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", id, err)
	}
	if err := os.RemoveAll(entry.Dir); err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", id, err)
	}
	if err := m.catalog.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("snapshot deleted", "snapshot_id", id)
	return nil
}

// Prune applies the retention policy and returns the deleted ids.
// A recording survives if it is among the newest RetentionCount or younger
// than RetentionDays; the newest recording always survives.
func (m *Manager) Prune(ctx context.Context) ([]string, error) {
	entries, err := m.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) <= 1 {
		return nil, nil
	}

	keep := make(map[string]struct{}, len(entries))

	if m.cfg.RetentionCount > 0 {
		start := max(len(entries)-m.cfg.RetentionCount, 0)
		for _, e := range entries[start:] {
			keep[e.ID] = struct{}{}
		}
	}

	if m.cfg.RetentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
		for _, e := range entries {
			if e.CreatedAt.After(cutoff) {
				keep[e.ID] = struct{}{}
			}
		}
	}

	keep[entries[len(entries)-1].ID] = struct{}{}

	var (
		deleted []string
		errs    []error
	)
	for _, e := range entries {
		if _, ok := keep[e.ID]; ok {
			continue
		}
		if err := m.Delete(ctx, e.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, e.ID)
	}
	return deleted, errors.Join(errs...)
}

// CleanupOrphans removes recording directories that were never completed,
// such as those left by a crash mid-snapshot.
func (m *Manager) CleanupOrphans(ctx context.Context) (int, error) {
	dirs, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("snapshot: read dir: %w", err)
	}

	removed := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		id := d.Name()
		if _, err := ulid.ParseStrict(id); err != nil {
			continue
		}

		m.mu.Lock()
		_, active := m.active[id]
		m.mu.Unlock()
		if active {
			continue
		}

		if _, err := m.catalog.Get(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrSnapshotNotFound) {
			return removed, err
		}

		if err := os.RemoveAll(filepath.Join(m.cfg.Dir, id)); err != nil {
			return removed, fmt.Errorf("snapshot: remove orphan %s: %w", id, err)
		}
		m.logger.Warn("removed incomplete snapshot recording", "snapshot_id", id)
		removed++
	}
	return removed, nil
}

// Capture writes the container's current sessions to a new recording.
func (m *Manager) Capture(ctx context.Context, c *service.Container, logPosition, leadershipTermID int64) (*storage.CatalogEntry, error) {
	typeID, appVersion, timeUnit := c.Descriptor()
	sessions := c.Sessions()

	rec, err := m.Create(Meta{
		TypeID:           typeID,
		LogPosition:      logPosition,
		LeadershipTermID: leadershipTermID,
		AppVersion:       appVersion,
		TimeUnit:         timeUnit,
	})
	if err != nil {
		return nil, err
	}

	if err := c.WriteSnapshot(ctx, rec.Publication(), sessions, logPosition, leadershipTermID); err != nil {
		if aerr := rec.Abort(); aerr != nil {
			m.logger.Warn("failed to discard recording", "snapshot_id", rec.ID(), "error", aerr)
		}
		return nil, err
	}
	return rec.Complete(ctx, len(sessions))
}

// Restore loads a recording into the container. An empty id selects the
// newest recording of the container's snapshot type.
func (m *Manager) Restore(ctx context.Context, c *service.Container, id string) (*service.LoadResult, *storage.CatalogEntry, error) {
	if id == "" {
		typeID, _, _ := c.Descriptor()
		latest, err := m.catalog.Latest(ctx, typeID)
		if err != nil {
			return nil, nil, err
		}
		id = latest.ID
	}

	r, entry, err := m.Open(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	result, err := c.LoadSnapshot(ctx, r)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: restore %s: %w", id, err)
	}
	return result, entry, nil
}
