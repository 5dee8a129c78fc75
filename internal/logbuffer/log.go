package logbuffer

import (
	"fmt"
	"math"
	"sync"
)

// Log defaults.
const (
	DefaultWindowLength     = 64 * 1024
	DefaultMaxPayloadLength = 8 * 1024
)

// LogConfig configures an in-memory Log.
type LogConfig struct {
	// WindowLength bounds how far the writer may run ahead of the reader.
	WindowLength int

	// MaxPayloadLength bounds a single claim.
	MaxPayloadLength int

	// MaxPosition is the largest stream position the log may reach.
	// Zero means unbounded.
	MaxPosition int64

	// RequireSubscriber makes TryClaim return NotConnected until an image
	// has been attached.
	RequireSubscriber bool
}

func (c LogConfig) withDefaults() LogConfig {
	if c.WindowLength <= 0 {
		c.WindowLength = DefaultWindowLength
	}
	if c.MaxPayloadLength <= 0 {
		c.MaxPayloadLength = DefaultMaxPayloadLength
	}
	if c.MaxPayloadLength > c.WindowLength-FrameHeaderLength {
		c.MaxPayloadLength = c.WindowLength - FrameHeaderLength
	}
	if c.MaxPosition <= 0 {
		c.MaxPosition = math.MaxInt64
	}
	return c
}

type frame struct {
	offset    int64
	data      []byte
	committed bool
	padding   bool
}

// Log is an in-memory single-writer, single-reader log.
//
// It is safe for one writer goroutine and one reader goroutine to share.
type Log struct {
	mu sync.Mutex

	cfg LogConfig

	frames   []*frame // unconsumed frames, oldest first
	writePos int64
	readPos  int64

	attached bool
	closed   bool
	pending  bool

	pub *LogPublication
	img *LogImage
}

// NewLog creates an empty log.
func NewLog(cfg LogConfig) *Log {
	l := &Log{cfg: cfg.withDefaults()}
	l.pub = &LogPublication{log: l}
	l.img = &LogImage{log: l}
	return l
}

// Publication returns the write side of the log.
func (l *Log) Publication() *LogPublication {
	return l.pub
}

// Image attaches and returns the read side of the log.
func (l *Log) Image() *LogImage {
	l.mu.Lock()
	l.attached = true
	l.mu.Unlock()
	return l.img
}

// Close stops further claims. Committed frames remain readable.
func (l *Log) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// LogPublication is the Publication of a Log.
type LogPublication struct {
	log *Log
}

// TryClaim implements Publication.
func (p *LogPublication) TryClaim(length int, claim *BufferClaim) int64 {
	l := p.log
	if length <= 0 || length > l.cfg.MaxPayloadLength {
		panic(fmt.Sprintf("logbuffer: claim length %d outside (0, %d]", length, l.cfg.MaxPayloadLength))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return Closed
	case l.cfg.RequireSubscriber && !l.attached:
		return NotConnected
	case l.pending:
		return AdminAction
	}

	aligned := int64(AlignedFrameLength(length))
	if l.writePos > l.cfg.MaxPosition-aligned {
		return MaxPositionExceeded
	}
	newPos := l.writePos + aligned
	if newPos-l.readPos > int64(l.cfg.WindowLength) {
		return BackPressured
	}

	f := &frame{offset: l.writePos, data: make([]byte, length)}
	l.frames = append(l.frames, f)
	l.writePos = newPos
	l.pending = true

	claim.Wrap(f.data, func([]byte) {
		l.mu.Lock()
		f.committed = true
		l.pending = false
		l.mu.Unlock()
	}, func() {
		l.mu.Lock()
		f.committed = true
		f.padding = true
		l.pending = false
		l.mu.Unlock()
	})
	return newPos
}

// MaxPayloadLength implements Publication.
func (p *LogPublication) MaxPayloadLength() int {
	return p.log.cfg.MaxPayloadLength
}

// Position implements Publication.
func (p *LogPublication) Position() int64 {
	p.log.mu.Lock()
	defer p.log.mu.Unlock()
	return p.log.writePos
}

// LogImage is the Image of a Log.
type LogImage struct {
	log *Log
}

// ControlledPoll implements Image.
func (img *LogImage) ControlledPoll(handler ControlledFragmentHandler, fragmentLimit int) int {
	l := img.log

	l.mu.Lock()
	var batch []*frame
	for _, f := range l.frames {
		if !f.committed || len(batch) == fragmentLimit {
			break
		}
		batch = append(batch, f)
	}
	l.mu.Unlock()

	consumed := 0
	fragments := 0
	for _, f := range batch {
		if f.padding {
			consumed++
			continue
		}
		end := f.offset + int64(AlignedFrameLength(len(f.data)))
		action := handler(f.data, Header{Offset: f.offset, Position: end})
		if action == ActionAbort {
			break
		}
		consumed++
		fragments++
		if action == ActionBreak {
			break
		}
	}

	if consumed > 0 {
		l.mu.Lock()
		last := l.frames[consumed-1]
		l.readPos = last.offset + int64(AlignedFrameLength(len(last.data)))
		l.frames = l.frames[consumed:]
		l.mu.Unlock()
	}
	return fragments
}

// IsEndOfStream implements Image.
func (img *LogImage) IsEndOfStream() bool {
	img.log.mu.Lock()
	defer img.log.mu.Unlock()
	return img.log.closed && img.log.readPos == img.log.writePos
}

// Position implements Image.
func (img *LogImage) Position() int64 {
	img.log.mu.Lock()
	defer img.log.mu.Unlock()
	return img.log.readPos
}
