package logbuffer

import "encoding/binary"

// Frame constants.
const (
	FrameHeaderLength = 8
	FrameAlignment    = 8

	frameTypeData    uint32 = 1
	frameTypePadding uint32 = 0
)

// AlignedFrameLength returns the stream bytes a payload of length occupies.
func AlignedFrameLength(length int) int {
	return align(FrameHeaderLength+length, FrameAlignment)
}

func align(v, alignment int) int {
	return (v + alignment - 1) &^ (alignment - 1)
}

// AppendFrame appends payload as a data frame to dst.
func AppendFrame(dst, payload []byte) []byte {
	return appendFrame(dst, frameTypeData, payload)
}

func appendFrame(dst []byte, frameType uint32, payload []byte) []byte {
	var hdr [FrameHeaderLength]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], frameType)
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	pad := AlignedFrameLength(len(payload)) - FrameHeaderLength - len(payload)
	for i := 0; i < pad; i++ {
		dst = append(dst, 0)
	}
	return dst
}
