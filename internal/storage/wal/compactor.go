package wal

import (
	"errors"
	"fmt"
	"os"
)

// DefaultRetainCount is the default number of segments kept by Compact.
const DefaultRetainCount = 3

// Compactor removes segment files from a WAL directory.
type Compactor struct {
	walDir      string
	retainCount int
}

// CompactorOption configures the Compactor.
type CompactorOption func(*Compactor)

// WithRetainCount sets the number of segments Compact always keeps.
func WithRetainCount(count int) CompactorOption {
	return func(c *Compactor) {
		if count > 0 {
			c.retainCount = count
		}
	}
}

// NewCompactor creates a new WAL compactor.
func NewCompactor(walDir string, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		walDir:      walDir,
		retainCount: DefaultRetainCount,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compact removes segments that precede the given writer offset
// (see Writer.CurrentOffset) while keeping at least retainCount segments.
// It returns the number of segments removed.
//
// Stream positions of a reader opened after compaction start at the
// first remaining segment.
func (c *Compactor) Compact(offset uint64) (int, error) {
	segs, err := listSegments(c.walDir)
	if err != nil {
		return 0, err
	}

	keepFrom := offset >> 32

	var toDelete []segmentInfo
	for _, seg := range segs {
		if seg.id < keepFrom {
			toDelete = append(toDelete, seg)
		}
	}

	// Oldest segments go first; the retain floor spares the newest of them.
	if kept := len(segs) - len(toDelete); kept < c.retainCount {
		spare := min(c.retainCount-kept, len(toDelete))
		toDelete = toDelete[:len(toDelete)-spare]
	}

	return removeSegments(toDelete)
}

// NeedsCompaction returns true if the total WAL size exceeds the threshold.
func (c *Compactor) NeedsCompaction(threshold int64) bool {
	totalSize, _ := c.TotalSize()
	return totalSize > threshold
}

// TotalSize returns the total size of all segment files in bytes.
func (c *Compactor) TotalSize() (int64, error) {
	segs, err := listSegments(c.walDir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, seg := range segs {
		info, err := os.Stat(seg.path)
		if err != nil {
			continue
		}
		total += info.Size()
	}

	return total, nil
}

// FileCount returns the number of segment files.
func (c *Compactor) FileCount() (int, error) {
	segs, err := listSegments(c.walDir)
	if err != nil {
		return 0, err
	}
	return len(segs), nil
}

// CleanAll removes every segment file, leaving the directory in place.
func (c *Compactor) CleanAll() (int, error) {
	segs, err := listSegments(c.walDir)
	if err != nil {
		return 0, err
	}
	return removeSegments(segs)
}

func removeSegments(segs []segmentInfo) (int, error) {
	var errs []error
	removed := 0
	for _, seg := range segs {
		if err := os.Remove(seg.path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", seg.path, err))
			continue
		}
		removed++
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("wal: failed to delete %d files: %w", len(errs), errors.Join(errs...))
	}
	return removed, nil
}
