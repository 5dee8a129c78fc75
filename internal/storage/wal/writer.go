package wal

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/clustersnap-go/internal/logbuffer"
	"github.com/yndnr/clustersnap-go/pkg/crypto/adaptive"
)

var (
	errInvalidMagic    = errors.New("wal: invalid magic bytes")
	errChecksumInvalid = errors.New("wal: segment checksum mismatch")
)

// File format constants.
const (
	FilePrefix      = "wal-"
	FileExtension   = ".log"
	MagicBytes      = "CSNAPWAL"
	MagicBytesSize  = 8
	ChecksumSize    = 32
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

// Default configuration values.
const (
	DefaultBatchCount          = 100
	DefaultBatchBytes    int64 = 1 << 20 // 1MB
	DefaultSyncInterval        = time.Second
	DefaultMaxFileSize   int64 = 64 << 20 // 64MB
	DefaultMaxEntryCount       = 100000
)

// SyncMode defines how WAL syncs to disk.
type SyncMode string

const (
	SyncModeSync  SyncMode = "sync"
	SyncModeBatch SyncMode = "batch"
)

// Config configures the WAL writer.
type Config struct {
	Dir string

	SyncMode     SyncMode
	SyncInterval time.Duration

	BatchCount int
	BatchBytes int64

	MaxFileSize   int64
	MaxEntryCount int

	// MaxPayloadLength is the largest payload TryClaim accepts.
	MaxPayloadLength int

	// MaxPosition caps the stream position. Zero means unbounded.
	MaxPosition int64

	// Cipher seals each payload when set. Stream positions then count
	// the sealed frame size.
	Cipher adaptive.Cipher

	Logger *slog.Logger
}

// DefaultConfig returns the default WAL configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		SyncMode:         SyncModeBatch,
		SyncInterval:     DefaultSyncInterval,
		BatchCount:       DefaultBatchCount,
		BatchBytes:       DefaultBatchBytes,
		MaxFileSize:      DefaultMaxFileSize,
		MaxEntryCount:    DefaultMaxEntryCount,
		MaxPayloadLength: logbuffer.DefaultMaxPayloadLength,
	}
}

// Writer appends frames to WAL segment files.
//
// Writer implements logbuffer.Publication: a claimed frame is buffered on
// Commit and reaches disk on the next flush. Stream positions count frame
// bytes only; segment magic and checksum trailers are not part of the
// stream.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex

	segmentID uint64
	file      *os.File
	filePath  string

	fileSize       int64 // bytes written excluding trailing checksum
	segmentEntries int
	hash           hash.Hash
	buffer         [][]byte
	bufferBytes    int64
	syncTicker     *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	closed         bool
	headerWritten  bool

	position int64
	pending  bool
	err      error
}

var _ logbuffer.Publication = (*Writer)(nil)

// NewWriter creates a new WAL writer, continuing the latest open segment
// in cfg.Dir if there is one.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("wal: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	applyDefaults(&cfg)

	w := &Writer{
		cfg:    cfg,
		logger: cfg.Logger,
		hash:   sha256.New(),
		stopCh: make(chan struct{}),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	position, err := streamLength(cfg.Dir)
	if err != nil {
		return nil, err
	}
	w.position = position

	latestID, latestPath, isClosed, err := findLatestSegment(cfg.Dir)
	if err != nil {
		return nil, err
	}

	if latestID == 0 || isClosed {
		w.segmentID = latestID + 1
		if err := w.openNewSegment(); err != nil {
			return nil, err
		}
	} else {
		w.segmentID = latestID
		w.filePath = latestPath
		if err := w.openExistingOpenSegment(); err != nil {
			return nil, err
		}
	}

	if w.cfg.SyncMode == SyncModeBatch {
		w.startSyncLoop()
	}

	return w, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncModeBatch
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.BatchCount == 0 {
		cfg.BatchCount = DefaultBatchCount
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = DefaultBatchBytes
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxEntryCount == 0 {
		cfg.MaxEntryCount = DefaultMaxEntryCount
	}
	if cfg.MaxPayloadLength <= 0 {
		cfg.MaxPayloadLength = logbuffer.DefaultMaxPayloadLength
	}
}

// TryClaim implements logbuffer.Publication.
func (w *Writer) TryClaim(length int, claim *logbuffer.BufferClaim) int64 {
	if length <= 0 || length > w.cfg.MaxPayloadLength {
		panic(fmt.Sprintf("wal: claim length %d outside (0, %d]", length, w.cfg.MaxPayloadLength))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.err != nil {
		return logbuffer.Closed
	}
	if w.pending {
		return logbuffer.AdminAction
	}
	offset := w.position
	next := offset + int64(w.frameLength(length))
	if w.cfg.MaxPosition > 0 && next > w.cfg.MaxPosition {
		return logbuffer.MaxPositionExceeded
	}

	w.pending = true
	w.position = next
	claim.Wrap(make([]byte, length),
		func(payload []byte) { w.commit(offset, payload) },
		func() { w.abort(length) })
	return next
}

// frameLength is the on-disk frame size for a payload of length bytes.
func (w *Writer) frameLength(length int) int {
	if w.cfg.Cipher != nil {
		return FrameLength(adaptive.SealedLength(w.cfg.Cipher, length))
	}
	return FrameLength(length)
}

func (w *Writer) commit(offset int64, payload []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = false
	if w.closed {
		w.position -= int64(w.frameLength(len(payload)))
		return
	}

	if w.cfg.Cipher != nil {
		sealed, err := w.cfg.Cipher.Encrypt(payload, frameAAD(offset))
		if err != nil {
			w.fail(fmt.Errorf("wal: seal frame at %d: %w", offset, err))
			return
		}
		payload = sealed
	}

	frame := appendFrame(make([]byte, 0, FrameLength(len(payload))), payload)
	w.buffer = append(w.buffer, frame)
	w.bufferBytes += int64(len(frame))

	if len(w.buffer) >= w.cfg.BatchCount || w.bufferBytes >= w.cfg.BatchBytes {
		if err := w.flushLocked(); err != nil {
			w.fail(err)
		}
	}
}

func (w *Writer) abort(length int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = false
	w.position -= int64(w.frameLength(length))
}

// fail records the first write error; the writer reports Closed from then on.
func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
		w.logger.Error("wal: writer failed", "dir", w.cfg.Dir, "segment", w.segmentID, "error", err)
	}
}

// MaxPayloadLength implements logbuffer.Publication.
func (w *Writer) MaxPayloadLength() int {
	return w.cfg.MaxPayloadLength
}

// Position implements logbuffer.Publication.
func (w *Writer) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// CurrentOffset returns a composite offset: (segmentID<<32 | offsetWithinSegment).
// offsetWithinSegment is the current write position in bytes, excluding any checksum trailer.
func (w *Writer) CurrentOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return (w.segmentID << 32) | uint64(uint32(w.fileSize))
}

// Flush writes buffered frames to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		w.fail(err)
		return err
	}
	return nil
}

func (w *Writer) flushLocked() error {
	if len(w.buffer) == 0 {
		if w.cfg.SyncMode == SyncModeSync && w.file != nil {
			return w.file.Sync()
		}
		return nil
	}

	var buf bytes.Buffer
	for _, frame := range w.buffer {
		buf.Write(frame)
	}

	// Rotate before writing if this batch would exceed segment limits.
	if w.file == nil {
		return fmt.Errorf("wal: file not open")
	}
	if w.segmentEntries > 0 &&
		(w.fileSize+int64(buf.Len()) > w.cfg.MaxFileSize || w.segmentEntries+len(w.buffer) > w.cfg.MaxEntryCount) {
		if err := w.finalizeSegmentWithoutFlushingLocked(); err != nil {
			return err
		}
		w.segmentID++
		if err := w.openNewSegment(); err != nil {
			return err
		}
	}

	if _, err := w.writeLocked(buf.Bytes()); err != nil {
		return fmt.Errorf("wal: write batch: %w", err)
	}

	w.segmentEntries += len(w.buffer)
	w.buffer = nil
	w.bufferBytes = 0

	if w.cfg.SyncMode == SyncModeSync {
		return w.file.Sync()
	}

	return nil
}

func (w *Writer) startSyncLoop() {
	w.syncTicker = time.NewTicker(w.cfg.SyncInterval)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.syncTicker.C:
				_ = w.Flush()
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *Writer) openNewSegment() error {
	path := filepath.Join(w.cfg.Dir, formatSegmentFilename(w.segmentID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}

	w.file = file
	w.filePath = path
	w.fileSize = 0
	w.segmentEntries = 0
	w.hash = sha256.New()
	w.headerWritten = false

	if err := w.writeHeaderLocked(); err != nil {
		file.Close()
		w.file = nil
		return err
	}

	return nil
}

func (w *Writer) openExistingOpenSegment() error {
	file, err := os.OpenFile(w.filePath, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open existing segment: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("wal: stat segment: %w", err)
	}

	// Validate magic.
	magic := make([]byte, MagicBytesSize)
	if _, err := io.ReadFull(io.NewSectionReader(file, 0, MagicBytesSize), magic); err != nil {
		file.Close()
		return fmt.Errorf("wal: read magic: %w", err)
	}
	if string(magic) != MagicBytes {
		file.Close()
		return errInvalidMagic
	}

	closed, dataLen, err := verifyChecksumTrailer(file, stat.Size())
	if err != nil {
		file.Close()
		return err
	}
	if closed {
		file.Close()
		return fmt.Errorf("wal: latest segment already finalized")
	}

	// Recompute hash over existing bytes (excluding trailer).
	w.hash = sha256.New()
	if _, err := io.CopyN(w.hash, io.NewSectionReader(file, 0, dataLen), dataLen); err != nil {
		file.Close()
		return fmt.Errorf("wal: hash existing segment: %w", err)
	}

	w.file = file
	w.fileSize = dataLen
	w.headerWritten = true
	w.segmentEntries = countFrames(file, dataLen)

	// Move cursor to end for appends.
	if _, err := file.Seek(dataLen, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("wal: seek: %w", err)
	}

	return nil
}

func (w *Writer) writeHeaderLocked() error {
	if w.headerWritten {
		return nil
	}

	if _, err := w.writeLocked([]byte(MagicBytes)); err != nil {
		return err
	}

	w.headerWritten = true
	return nil
}

func (w *Writer) writeLocked(p []byte) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("wal: file not open")
	}

	n, err := w.file.Write(p)
	if n > 0 {
		w.hash.Write(p[:n])
		w.fileSize += int64(n)
	}
	return n, err
}

func (w *Writer) finalizeSegmentLocked() error {
	if err := w.flushLocked(); err != nil {
		return err
	}

	if w.file == nil {
		return nil
	}
	return w.finalizeSegmentWithoutFlushingLocked()
}

func (w *Writer) finalizeSegmentWithoutFlushingLocked() error {
	checksum := w.hash.Sum(nil)
	if len(checksum) != ChecksumSize {
		return fmt.Errorf("wal: invalid sha256 size: %d", len(checksum))
	}

	if _, err := w.file.Write(checksum); err != nil {
		return fmt.Errorf("wal: write checksum: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}

	w.file = nil
	return nil
}

// Close flushes pending writes and finalizes the current segment with a checksum.
// A claim still pending at Close is dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.mu.Unlock()

	if w.syncTicker != nil {
		w.syncTicker.Stop()
	}
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return w.err
	}

	if err := w.finalizeSegmentLocked(); err != nil {
		return err
	}
	return w.err
}

func formatSegmentFilename(segmentID uint64) string {
	return fmt.Sprintf("%s%08d%s", FilePrefix, segmentID, FileExtension)
}

func parseSegmentFilename(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExtension) {
		return 0, false
	}
	var id uint64
	_, err := fmt.Sscanf(name, FilePrefix+"%d"+FileExtension, &id)
	return id, err == nil
}

type segmentInfo struct {
	id   uint64
	path string
}

// listSegments returns the segment files in dir ordered by id.
func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}

	var segs []segmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseSegmentFilename(e.Name())
		if !ok {
			continue
		}
		segs = append(segs, segmentInfo{id: id, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

func findLatestSegment(dir string) (latestID uint64, latestPath string, isClosed bool, err error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, "", false, err
	}
	if len(segs) == 0 {
		return 0, "", false, nil
	}

	last := segs[len(segs)-1]
	f, err := os.Open(last.path)
	if err != nil {
		return 0, "", false, fmt.Errorf("wal: open latest: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, "", false, fmt.Errorf("wal: stat latest: %w", err)
	}

	closed, _, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil && !errors.Is(err, errInvalidMagic) {
		return 0, "", false, err
	}
	return last.id, last.path, closed, nil
}

// countFrames walks the frame headers of a segment's data region.
func countFrames(f *os.File, dataLen int64) int {
	var hdr [FrameHeaderSize]byte
	n := 0
	for off := int64(MagicBytesSize); off+FrameHeaderSize <= dataLen; n++ {
		if _, err := f.ReadAt(hdr[:], off); err != nil {
			break
		}
		length, _, err := parseFrameHeader(hdr[:])
		if err != nil {
			break
		}
		off += int64(FrameLength(length))
	}
	return n
}

// streamLength sums the frame bytes of every segment in dir.
func streamLength(dir string) (int64, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, seg := range segs {
		f, err := os.Open(seg.path)
		if err != nil {
			return 0, fmt.Errorf("wal: open segment: %w", err)
		}
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("wal: stat segment: %w", err)
		}
		_, dataLen, err := verifyChecksumTrailer(f, stat.Size())
		f.Close()
		if err != nil {
			return 0, err
		}
		if dataLen > MagicBytesSize {
			total += dataLen - MagicBytesSize
		}
	}
	return total, nil
}

func verifyChecksumTrailer(f *os.File, size int64) (closed bool, dataLen int64, err error) {
	if size < MagicBytesSize {
		return false, size, nil
	}

	magic := make([]byte, MagicBytesSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, MagicBytesSize), magic); err != nil {
		return false, 0, fmt.Errorf("wal: read magic: %w", err)
	}
	if string(magic) != MagicBytes {
		return false, 0, errInvalidMagic
	}

	if size < MagicBytesSize+ChecksumSize {
		return false, size, nil
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, size-ChecksumSize, ChecksumSize), trailer); err != nil {
		return false, 0, fmt.Errorf("wal: read checksum trailer: %w", err)
	}

	h := sha256.New()
	dataLen = size - ChecksumSize
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return false, 0, fmt.Errorf("wal: hash: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return false, size, nil
	}
	return true, dataLen, nil
}
