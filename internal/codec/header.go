package codec

import (
	"encoding/binary"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// Schema constants shared by every message of the cluster protocol.
const (
	// SchemaID identifies the cluster message schema.
	SchemaID uint16 = 111

	// SchemaVersion is the schema version written by this encoder.
	SchemaVersion uint16 = 8

	// HeaderLength is the encoded size of MessageHeader.
	HeaderLength = 8
)

// MessageHeader is the envelope that prefixes every message.
type MessageHeader struct {
	SchemaID    uint16
	TemplateID  uint16
	BlockLength uint16
	Version     uint16
}

// EncodeHeader writes h at the start of dst.
func EncodeHeader(dst []byte, h MessageHeader) (int, error) {
	if len(dst) < HeaderLength {
		return 0, domain.ErrTruncatedMessage.WithDetailsf("header needs %d bytes, have %d", HeaderLength, len(dst))
	}
	binary.LittleEndian.PutUint16(dst[0:], h.SchemaID)
	binary.LittleEndian.PutUint16(dst[2:], h.TemplateID)
	binary.LittleEndian.PutUint16(dst[4:], h.BlockLength)
	binary.LittleEndian.PutUint16(dst[6:], h.Version)
	return HeaderLength, nil
}

// DecodeHeader reads the envelope at the start of src.
func DecodeHeader(src []byte) (MessageHeader, error) {
	if len(src) < HeaderLength {
		return MessageHeader{}, domain.ErrTruncatedMessage.WithDetailsf("header needs %d bytes, have %d", HeaderLength, len(src))
	}
	return MessageHeader{
		SchemaID:    binary.LittleEndian.Uint16(src[0:]),
		TemplateID:  binary.LittleEndian.Uint16(src[2:]),
		BlockLength: binary.LittleEndian.Uint16(src[4:]),
		Version:     binary.LittleEndian.Uint16(src[6:]),
	}, nil
}

// block returns the fixed block that follows the header, bounds-checked
// against the declared block length.
func block(src []byte, h MessageHeader) ([]byte, error) {
	end := HeaderLength + int(h.BlockLength)
	if len(src) < end {
		return nil, domain.ErrTruncatedMessage.WithDetailsf("template %d declares block length %d, have %d bytes",
			h.TemplateID, h.BlockLength, len(src)-HeaderLength)
	}
	return src[HeaderLength:end], nil
}

// fieldPresent reports whether a field at offset/size, introduced in
// sinceVersion, was written by the producer of blk.
func fieldPresent(blk []byte, h MessageHeader, offset, size int, sinceVersion uint16) bool {
	return h.Version >= sinceVersion && offset+size <= len(blk)
}
