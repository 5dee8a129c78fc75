package codec

import (
	"encoding/binary"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// Snapshot marker layout.
const (
	SnapshotMarkerTemplateID  uint16 = 100
	SnapshotMarkerBlockLength        = 40

	// SnapshotMarkerEncodedLength is the full size of an encoded marker.
	SnapshotMarkerEncodedLength = HeaderLength + SnapshotMarkerBlockLength

	markerTypeIDOffset           = 0
	markerLogPositionOffset      = 8
	markerLeadershipTermIDOffset = 16
	markerIndexOffset            = 24
	markerMarkOffset             = 28
	markerTimeUnitOffset         = 32
	markerAppVersionOffset       = 36

	markerTimeUnitSinceVersion   = 4
	markerAppVersionSinceVersion = 4
)

// SnapshotMarker frames a snapshot in the log.
type SnapshotMarker struct {
	TypeID           int64
	LogPosition      int64
	LeadershipTermID int64
	Index            int32
	Mark             SnapshotMark
	TimeUnit         TimeUnit
	AppVersion       int32
}

// TemplateID implements Message.
func (m *SnapshotMarker) TemplateID() uint16 { return SnapshotMarkerTemplateID }

// EncodedLength implements Message.
func (m *SnapshotMarker) EncodedLength() int { return SnapshotMarkerEncodedLength }

// Encode implements Message.
func (m *SnapshotMarker) Encode(dst []byte) (int, error) {
	return EncodeSnapshotMarker(dst, m)
}

func (*SnapshotMarker) isMessage() {}

// EncodeSnapshotMarker writes header and marker block at the start of dst.
func EncodeSnapshotMarker(dst []byte, m *SnapshotMarker) (int, error) {
	if len(dst) < SnapshotMarkerEncodedLength {
		return 0, domain.ErrTruncatedMessage.WithDetailsf("snapshot marker needs %d bytes, have %d",
			SnapshotMarkerEncodedLength, len(dst))
	}

	n, err := EncodeHeader(dst, MessageHeader{
		SchemaID:    SchemaID,
		TemplateID:  SnapshotMarkerTemplateID,
		BlockLength: SnapshotMarkerBlockLength,
		Version:     SchemaVersion,
	})
	if err != nil {
		return 0, err
	}

	b := dst[n : n+SnapshotMarkerBlockLength]
	binary.LittleEndian.PutUint64(b[markerTypeIDOffset:], uint64(m.TypeID))
	binary.LittleEndian.PutUint64(b[markerLogPositionOffset:], uint64(m.LogPosition))
	binary.LittleEndian.PutUint64(b[markerLeadershipTermIDOffset:], uint64(m.LeadershipTermID))
	binary.LittleEndian.PutUint32(b[markerIndexOffset:], uint32(m.Index))
	binary.LittleEndian.PutUint32(b[markerMarkOffset:], uint32(m.Mark))
	binary.LittleEndian.PutUint32(b[markerTimeUnitOffset:], uint32(m.TimeUnit))
	binary.LittleEndian.PutUint32(b[markerAppVersionOffset:], uint32(m.AppVersion))

	return SnapshotMarkerEncodedLength, nil
}

// DecodeSnapshotMarker decodes a marker whose envelope h has already been
// read from src.
func DecodeSnapshotMarker(src []byte, h MessageHeader) (*SnapshotMarker, error) {
	blk, err := block(src, h)
	if err != nil {
		return nil, err
	}

	m := &SnapshotMarker{
		TypeID:           NullInt64,
		LogPosition:      NullInt64,
		LeadershipTermID: NullInt64,
		Index:            NullInt32,
		Mark:             MarkNull,
		TimeUnit:         TimeUnitNull,
	}

	if fieldPresent(blk, h, markerTypeIDOffset, 8, 0) {
		m.TypeID = int64(binary.LittleEndian.Uint64(blk[markerTypeIDOffset:]))
	}
	if fieldPresent(blk, h, markerLogPositionOffset, 8, 0) {
		m.LogPosition = int64(binary.LittleEndian.Uint64(blk[markerLogPositionOffset:]))
	}
	if fieldPresent(blk, h, markerLeadershipTermIDOffset, 8, 0) {
		m.LeadershipTermID = int64(binary.LittleEndian.Uint64(blk[markerLeadershipTermIDOffset:]))
	}
	if fieldPresent(blk, h, markerIndexOffset, 4, 0) {
		m.Index = int32(binary.LittleEndian.Uint32(blk[markerIndexOffset:]))
	}
	if fieldPresent(blk, h, markerMarkOffset, 4, 0) {
		m.Mark = SnapshotMark(int32(binary.LittleEndian.Uint32(blk[markerMarkOffset:])))
	}
	if fieldPresent(blk, h, markerTimeUnitOffset, 4, markerTimeUnitSinceVersion) {
		m.TimeUnit = TimeUnit(int32(binary.LittleEndian.Uint32(blk[markerTimeUnitOffset:])))
	}
	if fieldPresent(blk, h, markerAppVersionOffset, 4, markerAppVersionSinceVersion) {
		m.AppVersion = int32(binary.LittleEndian.Uint32(blk[markerAppVersionOffset:]))
	}

	return m, nil
}
