package wal

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/yndnr/clustersnap-go/internal/logbuffer"
	"github.com/yndnr/clustersnap-go/pkg/crypto/adaptive"
)

var (
	ErrCorrupted = errors.New("wal: corrupted segment")
)

// Reader replays the frames of all segments in a directory in order.
//
// Reader implements logbuffer.Image. A fragment the handler aborts stays
// buffered and is delivered again by the next poll. A torn frame at the
// tail of the newest, unfinalized segment is treated as the end of the
// stream; any other damage stops the reader and is reported by Err.
type Reader struct {
	dir    string
	cipher adaptive.Cipher

	segments []segmentInfo
	segIndex int

	file      *os.File
	reader    *bufio.Reader
	segClosed bool

	pending    []byte
	pendingLen int // on-disk frame length of pending
	hasPending bool
	position   int64
	eos        bool
	err        error
}

var _ logbuffer.Image = (*Reader)(nil)

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithCipher opens frames sealed by a Writer configured with the same cipher.
func WithCipher(c adaptive.Cipher) ReaderOption {
	return func(r *Reader) { r.cipher = c }
}

// NewReader creates a new WAL reader for a directory.
func NewReader(dir string, opts ...ReaderOption) (*Reader, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	r := &Reader{dir: dir, segments: segs}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ControlledPoll implements logbuffer.Image.
func (r *Reader) ControlledPoll(handler logbuffer.ControlledFragmentHandler, fragmentLimit int) int {
	consumed := 0
	for consumed < fragmentLimit {
		if !r.fill() {
			break
		}

		frameLen := int64(r.pendingLen)
		action := handler(r.pending, logbuffer.Header{
			Offset:   r.position,
			Position: r.position + frameLen,
		})
		if action == logbuffer.ActionAbort {
			break
		}

		r.position += frameLen
		r.pending = nil
		r.hasPending = false
		consumed++

		if action == logbuffer.ActionBreak {
			break
		}
	}
	return consumed
}

// IsEndOfStream implements logbuffer.Image. It is also true once the
// reader has failed.
func (r *Reader) IsEndOfStream() bool {
	return !r.fill()
}

// Position implements logbuffer.Image.
func (r *Reader) Position() int64 {
	return r.position
}

// Err returns the error that stopped the reader, if any.
func (r *Reader) Err() error {
	return r.err
}

// Close closes any open segment file.
func (r *Reader) Close() error {
	return r.closeCurrent()
}

// fill buffers the next frame and reports whether one is available.
func (r *Reader) fill() bool {
	if r.hasPending {
		return true
	}
	if r.eos || r.err != nil {
		return false
	}

	for {
		if r.reader == nil {
			if r.segIndex >= len(r.segments) {
				r.eos = true
				r.closeCurrent()
				return false
			}
			if err := r.openNextSegment(); err != nil {
				r.err = err
				r.closeCurrent()
				return false
			}
		}

		payload, err := r.readFrame()
		switch {
		case err == nil:
			r.pendingLen = FrameLength(len(payload))
			if r.cipher != nil {
				plain, derr := r.cipher.Decrypt(payload, frameAAD(r.position))
				if derr != nil {
					r.err = fmt.Errorf("%w at position %d: %v", ErrDecryptFailed, r.position, derr)
					r.closeCurrent()
					return false
				}
				payload = plain
			}
			r.pending = payload
			r.hasPending = true
			return true
		case errors.Is(err, io.EOF):
			r.closeCurrent()
		case errors.Is(err, io.ErrUnexpectedEOF) && r.isTail():
			r.closeCurrent()
		default:
			r.err = fmt.Errorf("wal: segment %s: %w", r.segments[r.segIndex-1].path, err)
			r.closeCurrent()
			return false
		}
	}
}

// isTail reports whether the current segment is the newest and unfinalized.
func (r *Reader) isTail() bool {
	return !r.segClosed && r.segIndex == len(r.segments)
}

func (r *Reader) openNextSegment() error {
	seg := r.segments[r.segIndex]
	r.segIndex++

	f, err := os.Open(seg.path)
	if err != nil {
		return err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	closed, dataLen, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil {
		f.Close()
		return err
	}
	if dataLen < MagicBytesSize {
		f.Close()
		if closed || r.segIndex < len(r.segments) {
			return ErrCorrupted
		}
		// A segment created but not yet written to.
		r.segClosed = false
		r.reader = bufio.NewReader(bytes.NewReader(nil))
		return nil
	}

	r.file = f
	r.segClosed = closed
	r.reader = bufio.NewReader(io.NewSectionReader(f, MagicBytesSize, dataLen-MagicBytesSize))
	return nil
}

func (r *Reader) readFrame() ([]byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r.reader, hdr[:]); err != nil {
		return nil, err
	}

	length, checksum, err := parseFrameHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.reader, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if err := verifyPayload(payload, checksum); err != nil {
		return nil, err
	}
	return payload, nil
}

func (r *Reader) closeCurrent() error {
	r.reader = nil

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// VerifyTrailerChecksum checks the SHA-256 trailer of a finalized segment.
func VerifyTrailerChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < MagicBytesSize+ChecksumSize {
		return ErrCorrupted
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, stat.Size()-ChecksumSize, ChecksumSize), trailer); err != nil {
		return err
	}

	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, stat.Size()-ChecksumSize), stat.Size()-ChecksumSize); err != nil {
		return err
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return errChecksumInvalid
	}
	return nil
}

// VerifyDir checks that every segment in dir is finalized with a valid
// trailer. It returns the number of segments verified.
func VerifyDir(dir string) (int, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	for _, seg := range segs {
		if err := VerifyTrailerChecksum(seg.path); err != nil {
			return 0, fmt.Errorf("wal: verify %s: %w", seg.path, err)
		}
	}
	return len(segs), nil
}
