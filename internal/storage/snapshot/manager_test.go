package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/storage"
	"github.com/yndnr/clustersnap-go/internal/storage/wal"
	"github.com/yndnr/clustersnap-go/pkg/idle"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	kvCfg := storage.DefaultKVConfig("")
	kvCfg.InMemory = true
	kv, err := storage.NewBadgerEngine(kvCfg, nil)
	if err != nil {
		t.Fatalf("NewBadgerEngine: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m, err := NewManager(cfg, storage.NewCatalog(kv))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func newTestContainer(t *testing.T, ids ...int64) *service.Container {
	t.Helper()
	c := service.NewContainer(service.ContainerConfig{
		AppVersion:      service.ComposeVersion(1, 4, 0),
		TimeUnit:        codec.TimeUnitNanos,
		NewIdleStrategy: func() idle.Strategy { return idle.NoOp{} },
	})
	for _, id := range ids {
		s := &domain.ClientSession{
			ID:               id,
			ResponseStreamID: 100 + int32(id),
			ResponseChannel:  fmt.Sprintf("aeron:udp?endpoint=client%d:9000", id),
		}
		if id%2 == 1 {
			s.EncodedPrincipal = []byte(fmt.Sprintf("principal-%d", id))
		}
		if err := c.OpenSession(s); err != nil {
			t.Fatalf("OpenSession(%d): %v", id, err)
		}
	}
	return c
}

func recordingDirs(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(Config{}, storage.NewCatalog(nil)); err == nil {
		t.Fatal("NewManager with empty dir succeeded")
	}
	if _, err := NewManager(Config{Dir: t.TempDir()}, nil); err == nil {
		t.Fatal("NewManager without catalog succeeded")
	}
}

func TestManager_CaptureRestore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	src := newTestContainer(t, 1, 2, 3)

	entry, err := m.Capture(ctx, src, 4096, 7)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if entry.SessionCount != 3 || entry.LogPosition != 4096 || entry.LeadershipTermID != 7 {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.TypeID != service.SnapshotTypeID {
		t.Fatalf("TypeID = %d, want %d", entry.TypeID, service.SnapshotTypeID)
	}
	if entry.AppVersion != service.ComposeVersion(1, 4, 0) || entry.TimeUnit != codec.TimeUnitNanos {
		t.Fatalf("entry header = version %d unit %s", entry.AppVersion, entry.TimeUnit)
	}
	if entry.SizeBytes <= int64(wal.MagicBytesSize+wal.ChecksumSize) {
		t.Fatalf("SizeBytes = %d", entry.SizeBytes)
	}
	if err := m.Verify(ctx, entry.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	dst := newTestContainer(t, 99)
	result, got, err := m.Restore(ctx, dst, "")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got.ID != entry.ID {
		t.Fatalf("restored %s, want %s", got.ID, entry.ID)
	}
	if result.Sessions != 3 || result.LogPosition != 4096 || result.LeadershipTermID != 7 {
		t.Fatalf("result = %+v", result)
	}
	if result.TimeUnit != codec.TimeUnitNanos {
		t.Fatalf("TimeUnit = %s, want NANOS", result.TimeUnit)
	}

	want, have := src.Sessions(), dst.Sessions()
	if len(want) != len(have) {
		t.Fatalf("sessions = %d, want %d", len(have), len(want))
	}
	for i := range want {
		if !want[i].Equal(have[i]) {
			t.Errorf("session %d = %s, want %s", i, have[i], want[i])
		}
	}
}

func TestManager_ListAndLatest(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	c := newTestContainer(t, 1)

	late, err := m.Capture(ctx, c, 300, 1)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	early, err := m.Capture(ctx, c, 100, 1)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	entries, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != early.ID || entries[1].ID != late.ID {
		t.Fatalf("List = %v", entries)
	}

	latest, err := m.Latest(ctx, service.SnapshotTypeID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != late.ID {
		t.Fatalf("Latest = %s, want %s", latest.ID, late.ID)
	}
}

func TestRecording_Abort(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	rec, err := m.Create(Meta{TypeID: 2, LogPosition: 10})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(rec.Dir()); err != nil {
		t.Fatalf("recording dir missing: %v", err)
	}
	if err := rec.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(rec.Dir()); !os.IsNotExist(err) {
		t.Fatalf("recording dir still present: %v", err)
	}
	if _, err := rec.Complete(ctx, 0); err == nil {
		t.Fatal("Complete after Abort succeeded")
	}
	if _, err := m.Get(ctx, rec.ID()); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("Get = %v, want ErrSnapshotNotFound", err)
	}
}

func TestManager_CaptureFailureDiscardsRecording(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{MaxPayloadLength: 64})
	c := service.NewContainer(service.ContainerConfig{
		NewIdleStrategy: func() idle.Strategy { return idle.NoOp{} },
	})
	if err := c.OpenSession(&domain.ClientSession{ID: 1, ResponseChannel: strings.Repeat("x", 100)}); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if _, err := m.Capture(ctx, c, 1, 1); !errors.Is(err, domain.ErrSessionTooLarge) {
		t.Fatalf("Capture = %v, want ErrSessionTooLarge", err)
	}
	if dirs := recordingDirs(t, m.cfg.Dir); len(dirs) != 0 {
		t.Fatalf("recording dirs left behind: %v", dirs)
	}
	entries, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("catalog entries = %d, want 0", len(entries))
	}
}

func TestManager_Prune(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{RetentionCount: 2, RetentionDays: -1})
	c := newTestContainer(t, 1)

	var ids []string
	for pos := int64(1); pos <= 4; pos++ {
		e, err := m.Capture(ctx, c, pos*100, 1)
		if err != nil {
			t.Fatalf("Capture: %v", err)
		}
		ids = append(ids, e.ID)
	}

	deleted, err := m.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != ids[0] || deleted[1] != ids[1] {
		t.Fatalf("deleted = %v, want %v", deleted, ids[:2])
	}
	if dirs := recordingDirs(t, m.cfg.Dir); len(dirs) != 2 {
		t.Fatalf("remaining dirs = %v", dirs)
	}
	if _, err := m.Get(ctx, ids[0]); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("Get(pruned) = %v, want ErrSnapshotNotFound", err)
	}
}

func TestManager_PruneKeepsRecentByAge(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{RetentionCount: 1, RetentionDays: 1})
	c := newTestContainer(t, 1)

	for pos := int64(1); pos <= 3; pos++ {
		if _, err := m.Capture(ctx, c, pos, 1); err != nil {
			t.Fatalf("Capture: %v", err)
		}
	}
	deleted, err := m.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("deleted = %v, want none", deleted)
	}
}

func TestManager_CleanupOrphans(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	orphan := filepath.Join(m.cfg.Dir, ulid.Make().String())
	if err := os.MkdirAll(orphan, 0750); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(m.cfg.Dir, "notes")
	if err := os.MkdirAll(unrelated, 0750); err != nil {
		t.Fatal(err)
	}

	completed, err := m.Capture(ctx, newTestContainer(t, 1), 10, 1)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	active, err := m.Create(Meta{TypeID: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer active.Abort()

	removed, err := m.CleanupOrphans(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan still present: %v", err)
	}
	for _, dir := range []string{unrelated, active.Dir(), completed.Dir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("%s removed: %v", dir, err)
		}
	}
}

func TestManager_RestoreDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	entry, err := m.Capture(ctx, newTestContainer(t, 1, 2), 50, 1)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	path := filepath.Join(entry.Dir, "wal-00000001.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[wal.MagicBytesSize+wal.FrameHeaderSize] ^= 0xFF
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := m.Verify(ctx, entry.ID); err == nil {
		t.Fatal("Verify accepted a modified recording")
	}

	dst := newTestContainer(t, 7)
	if _, _, err := m.Restore(ctx, dst, entry.ID); !errors.Is(err, wal.ErrChecksumMismatch) {
		t.Fatalf("Restore = %v, want ErrChecksumMismatch", err)
	}
	if dst.SessionCount() != 1 {
		t.Fatalf("sessions after failed restore = %d, want 1", dst.SessionCount())
	}
}

func TestManager_NotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	if _, _, err := m.Restore(ctx, newTestContainer(t), ""); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("Restore = %v, want ErrSnapshotNotFound", err)
	}
	if err := m.Delete(ctx, "missing"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("Delete = %v, want ErrSnapshotNotFound", err)
	}
	if _, _, err := m.Open(ctx, "missing"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("Open = %v, want ErrSnapshotNotFound", err)
	}
}
