package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
)

// Catalog key layout.
//
//	snap/<logPosition:8 BE>/<id>  -> CatalogEntry JSON
//	snapid/<id>                   -> primary key
const (
	catalogPrefix = "snap/"
	idIndexPrefix = "snapid/"
)

// CatalogEntry describes one completed snapshot recording.
type CatalogEntry struct {
	ID               string         `json:"id"`
	TypeID           int64          `json:"type_id"`
	LogPosition      int64          `json:"log_position"`
	LeadershipTermID int64          `json:"leadership_term_id"`
	Index            int32          `json:"index"`
	AppVersion       int32          `json:"app_version"`
	TimeUnit         codec.TimeUnit `json:"time_unit"`
	SessionCount     int            `json:"session_count"`
	SizeBytes        int64          `json:"size_bytes"`
	CreatedAt        time.Time      `json:"created_at"`
	Dir              string         `json:"dir"`

	// Encryption is set when the recording's frames are sealed.
	Encryption *EncryptionInfo `json:"encryption,omitempty"`
}

// EncryptionInfo records how a recording's key was derived. The key
// itself is never stored.
type EncryptionInfo struct {
	Algorithm string `json:"algorithm"`
	KDF       string `json:"kdf"`
	Salt      []byte `json:"salt"`
}

// Validate checks the fields the catalog keys depend on.
func (e *CatalogEntry) Validate() error {
	if e.ID == "" {
		return domain.ErrInvalidArgument.WithDetails("catalog entry id is required")
	}
	if e.LogPosition < 0 {
		return domain.ErrInvalidArgument.WithDetailsf("negative log position %d", e.LogPosition)
	}
	return nil
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCatalogMetrics reports the entry count to m.
func WithCatalogMetrics(m *metric.Registry) CatalogOption {
	return func(c *Catalog) {
		c.metrics = m
	}
}

// Catalog indexes snapshot recordings by log position.
type Catalog struct {
	kv      KVEngine
	logger  *slog.Logger
	metrics *metric.Registry
}

// NewCatalog creates a catalog over kv.
func NewCatalog(kv KVEngine, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		kv:     kv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func entryKey(logPosition int64, id string) []byte {
	key := make([]byte, 0, len(catalogPrefix)+8+1+len(id))
	key = append(key, catalogPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(logPosition))
	key = append(key, '/')
	return append(key, id...)
}

func idKey(id string) []byte {
	return []byte(idIndexPrefix + id)
}

// Put stores or replaces an entry.
func (c *Catalog) Put(ctx context.Context, entry *CatalogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	if prev, err := c.Get(ctx, entry.ID); err == nil {
		if prev.LogPosition != entry.LogPosition {
			if err := c.kv.Delete(ctx, entryKey(prev.LogPosition, prev.ID)); err != nil {
				return fmt.Errorf("storage: catalog replace %s: %w", entry.ID, err)
			}
		}
	} else if !errors.Is(err, domain.ErrSnapshotNotFound) {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("storage: marshal catalog entry: %w", err)
	}

	key := entryKey(entry.LogPosition, entry.ID)
	if err := c.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("storage: catalog put %s: %w", entry.ID, err)
	}
	if err := c.kv.Set(ctx, idKey(entry.ID), key); err != nil {
		return fmt.Errorf("storage: catalog index %s: %w", entry.ID, err)
	}

	c.logger.Debug("catalog entry stored",
		"snapshot_id", entry.ID,
		"log_position", entry.LogPosition,
		"sessions", entry.SessionCount)
	c.refreshMetrics(ctx)
	return nil
}

// Get returns the entry with the given id.
func (c *Catalog) Get(ctx context.Context, id string) (*CatalogEntry, error) {
	key, err := c.kv.Get(ctx, idKey(id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrSnapshotNotFound.WithDetails(id)
		}
		return nil, fmt.Errorf("storage: catalog get %s: %w", id, err)
	}

	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrSnapshotNotFound.WithDetails(id)
		}
		return nil, fmt.Errorf("storage: catalog get %s: %w", id, err)
	}
	return decodeEntry(data)
}

// Delete removes the entry with the given id.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	key, err := c.kv.Get(ctx, idKey(id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return domain.ErrSnapshotNotFound.WithDetails(id)
		}
		return fmt.Errorf("storage: catalog delete %s: %w", id, err)
	}
	if err := c.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("storage: catalog delete %s: %w", id, err)
	}
	if err := c.kv.Delete(ctx, idKey(id)); err != nil {
		return fmt.Errorf("storage: catalog delete %s: %w", id, err)
	}
	c.refreshMetrics(ctx)
	return nil
}

// List returns all entries in ascending log position order.
func (c *Catalog) List(ctx context.Context) ([]*CatalogEntry, error) {
	var (
		entries []*CatalogEntry
		decErr  error
	)
	err := c.kv.Scan(ctx, []byte(catalogPrefix), func(_, value []byte) bool {
		e, err := decodeEntry(value)
		if err != nil {
			decErr = err
			return false
		}
		entries = append(entries, e)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("storage: catalog scan: %w", err)
	}
	if decErr != nil {
		return nil, decErr
	}
	return entries, nil
}

// Latest returns the entry with the highest log position for typeID.
func (c *Catalog) Latest(ctx context.Context, typeID int64) (*CatalogEntry, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].TypeID == typeID {
			return entries[i], nil
		}
	}
	return nil, domain.ErrSnapshotNotFound.WithDetailsf("no snapshot of type %d", typeID)
}

// Count returns the number of entries.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.kv.Scan(ctx, []byte(catalogPrefix), func(_, _ []byte) bool {
		n++
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("storage: catalog scan: %w", err)
	}
	return n, nil
}

func (c *Catalog) refreshMetrics(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	if n, err := c.Count(ctx); err == nil {
		c.metrics.SetCatalogEntries(n)
	}
}

func decodeEntry(data []byte) (*CatalogEntry, error) {
	var e CatalogEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("storage: decode catalog entry: %w", err)
	}
	return &e, nil
}
