package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	// FrameHeaderSize is the size of a frame header: length (4) + crc (4).
	FrameHeaderSize = 8

	// maxFrameLength bounds the length field so a corrupt header cannot
	// trigger a huge allocation.
	maxFrameLength = 16 << 20
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrDecryptFailed    = errors.New("wal: frame decryption failed")
)

// FrameLength returns the on-disk size of a frame carrying payloadLength bytes.
func FrameLength(payloadLength int) int {
	return FrameHeaderSize + payloadLength
}

// appendFrame appends [len:4][crc32:4][payload] to dst.
func appendFrame(dst, payload []byte) []byte {
	var hdr [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// parseFrameHeader returns the payload length and checksum of a frame header.
func parseFrameHeader(hdr []byte) (length int, checksum uint32, err error) {
	if len(hdr) < FrameHeaderSize {
		return 0, 0, ErrCorruptedEntry
	}
	n := binary.BigEndian.Uint32(hdr[0:4])
	if n == 0 || n > maxFrameLength {
		return 0, 0, ErrCorruptedEntry
	}
	return int(n), binary.BigEndian.Uint32(hdr[4:8]), nil
}

func verifyPayload(payload []byte, checksum uint32) error {
	if crc32.ChecksumIEEE(payload) != checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// frameAAD binds a sealed payload to the stream offset of its frame, so
// frames cannot be reordered or replayed at another position.
func frameAAD(offset int64) []byte {
	var ad [8]byte
	binary.BigEndian.PutUint64(ad[:], uint64(offset))
	return ad[:]
}
