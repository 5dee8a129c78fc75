package logbuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrCorruptFrame is reported by BytesImage when the stream ends inside a
// frame or a frame header is malformed.
var ErrCorruptFrame = errors.New("logbuffer: corrupt frame")

// StreamPublication writes committed frames to an io.Writer.
//
// It never back-pressures; a write error closes it.
type StreamPublication struct {
	w          io.Writer
	maxPayload int
	pos        int64
	pending    bool
	closed     bool
	err        error
	scratch    []byte
}

// NewStreamPublication creates a publication writing to w.
func NewStreamPublication(w io.Writer, maxPayloadLength int) *StreamPublication {
	if maxPayloadLength <= 0 {
		maxPayloadLength = DefaultMaxPayloadLength
	}
	return &StreamPublication{w: w, maxPayload: maxPayloadLength}
}

// TryClaim implements Publication.
func (p *StreamPublication) TryClaim(length int, claim *BufferClaim) int64 {
	if length <= 0 || length > p.maxPayload {
		panic(fmt.Sprintf("logbuffer: claim length %d outside (0, %d]", length, p.maxPayload))
	}
	if p.closed || p.err != nil {
		return Closed
	}
	if p.pending {
		return AdminAction
	}

	p.pending = true
	p.pos += int64(AlignedFrameLength(length))
	claim.Wrap(make([]byte, length), func(buf []byte) {
		p.pending = false
		p.write(frameTypeData, buf)
	}, func() {
		p.pending = false
		p.write(frameTypePadding, make([]byte, length))
	})
	return p.pos
}

func (p *StreamPublication) write(frameType uint32, payload []byte) {
	if p.err != nil {
		return
	}
	p.scratch = appendFrame(p.scratch[:0], frameType, payload)
	if _, err := p.w.Write(p.scratch); err != nil {
		p.err = fmt.Errorf("logbuffer: write frame: %w", err)
	}
}

// MaxPayloadLength implements Publication.
func (p *StreamPublication) MaxPayloadLength() int {
	return p.maxPayload
}

// Position implements Publication.
func (p *StreamPublication) Position() int64 {
	return p.pos
}

// Err returns the first write error, if any.
func (p *StreamPublication) Err() error {
	return p.err
}

// Close stops further claims.
func (p *StreamPublication) Close() {
	p.closed = true
}

// BytesImage is an Image over a recorded frame stream.
type BytesImage struct {
	data []byte
	off  int
	err  error
}

// NewBytesImage creates an image over data. data is not copied.
func NewBytesImage(data []byte) *BytesImage {
	return &BytesImage{data: data}
}

// ControlledPoll implements Image.
func (img *BytesImage) ControlledPoll(handler ControlledFragmentHandler, fragmentLimit int) int {
	fragments := 0
	for fragments < fragmentLimit && img.err == nil && img.off < len(img.data) {
		rest := img.data[img.off:]
		if len(rest) < FrameHeaderLength {
			img.err = fmt.Errorf("%w: %d trailing bytes at %d", ErrCorruptFrame, len(rest), img.off)
			break
		}
		length := binary.LittleEndian.Uint32(rest[0:])
		frameType := binary.LittleEndian.Uint32(rest[4:])
		if uint64(length) > uint64(len(rest)-FrameHeaderLength) ||
			AlignedFrameLength(int(length)) > len(rest) {
			img.err = fmt.Errorf("%w: frame of %d bytes at %d exceeds stream", ErrCorruptFrame, length, img.off)
			break
		}
		aligned := AlignedFrameLength(int(length))

		offset := int64(img.off)
		if frameType == frameTypePadding {
			img.off += aligned
			continue
		}
		action := handler(rest[FrameHeaderLength:FrameHeaderLength+int(length)],
			Header{Offset: offset, Position: offset + int64(aligned)})
		if action == ActionAbort {
			break
		}
		img.off += aligned
		fragments++
		if action == ActionBreak {
			break
		}
	}
	return fragments
}

// IsEndOfStream implements Image. A corrupt stream is at its end.
func (img *BytesImage) IsEndOfStream() bool {
	return img.err != nil || img.off >= len(img.data)
}

// Position implements Image.
func (img *BytesImage) Position() int64 {
	return int64(img.off)
}

// Remaining returns the unconsumed bytes of the stream.
func (img *BytesImage) Remaining() []byte {
	return img.data[img.off:]
}

// Err returns ErrCorruptFrame if the stream was malformed.
func (img *BytesImage) Err() error {
	return img.err
}
