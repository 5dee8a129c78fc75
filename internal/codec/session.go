package codec

import (
	"encoding/binary"
	"math"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// Client session layout.
const (
	ClientSessionTemplateID  uint16 = 102
	ClientSessionBlockLength        = 12

	sessionClusterSessionIDOffset = 0
	sessionResponseStreamIDOffset = 8

	// varDataLengthSize is the size of the length prefix of a var-data field.
	varDataLengthSize = 4

	// MaxClientSessionEncodedLength is the encoded size of a session whose
	// channel and principal are both at their domain limits.
	MaxClientSessionEncodedLength = HeaderLength + ClientSessionBlockLength +
		varDataLengthSize + domain.MaxResponseChannelLength +
		varDataLengthSize + domain.MaxEncodedPrincipalLength
)

// NewClientSessionRecord returns the persisted form of s.
func NewClientSessionRecord(s *domain.ClientSession) *ClientSession {
	return &ClientSession{
		ClusterSessionID: s.ID,
		ResponseStreamID: s.ResponseStreamID,
		ResponseChannel:  s.ResponseChannel,
		EncodedPrincipal: s.EncodedPrincipal,
	}
}

// ClientSession is the persisted form of one client session.
type ClientSession struct {
	ClusterSessionID int64
	ResponseStreamID int32
	ResponseChannel  string
	EncodedPrincipal []byte
}

// TemplateID implements Message.
func (s *ClientSession) TemplateID() uint16 { return ClientSessionTemplateID }

// EncodedLength implements Message.
func (s *ClientSession) EncodedLength() int {
	return HeaderLength + ClientSessionBlockLength +
		varDataLengthSize + len(s.ResponseChannel) +
		varDataLengthSize + len(s.EncodedPrincipal)
}

// Encode implements Message.
func (s *ClientSession) Encode(dst []byte) (int, error) {
	return EncodeClientSession(dst, s)
}

func (*ClientSession) isMessage() {}

// EncodeClientSession writes header, block and var data at the start of dst.
func EncodeClientSession(dst []byte, s *ClientSession) (int, error) {
	length := s.EncodedLength()
	if len(dst) < length {
		return 0, domain.ErrTruncatedMessage.WithDetailsf("client session needs %d bytes, have %d", length, len(dst))
	}
	if uint64(len(s.ResponseChannel)) > math.MaxUint32 || uint64(len(s.EncodedPrincipal)) > math.MaxUint32 {
		return 0, domain.ErrInvalidArgument.WithDetails("client session var data too long")
	}

	n, err := EncodeHeader(dst, MessageHeader{
		SchemaID:    SchemaID,
		TemplateID:  ClientSessionTemplateID,
		BlockLength: ClientSessionBlockLength,
		Version:     SchemaVersion,
	})
	if err != nil {
		return 0, err
	}

	binary.LittleEndian.PutUint64(dst[n+sessionClusterSessionIDOffset:], uint64(s.ClusterSessionID))
	binary.LittleEndian.PutUint32(dst[n+sessionResponseStreamIDOffset:], uint32(s.ResponseStreamID))
	n += ClientSessionBlockLength

	n += putVarData(dst[n:], []byte(s.ResponseChannel))
	n += putVarData(dst[n:], s.EncodedPrincipal)
	return n, nil
}

// DecodeClientSession decodes a session whose envelope h has already been
// read from src. The returned strings and slices do not alias src.
func DecodeClientSession(src []byte, h MessageHeader) (*ClientSession, error) {
	blk, err := block(src, h)
	if err != nil {
		return nil, err
	}

	s := &ClientSession{
		ClusterSessionID: NullInt64,
		ResponseStreamID: NullInt32,
	}
	if fieldPresent(blk, h, sessionClusterSessionIDOffset, 8, 0) {
		s.ClusterSessionID = int64(binary.LittleEndian.Uint64(blk[sessionClusterSessionIDOffset:]))
	}
	if fieldPresent(blk, h, sessionResponseStreamIDOffset, 4, 0) {
		s.ResponseStreamID = int32(binary.LittleEndian.Uint32(blk[sessionResponseStreamIDOffset:]))
	}

	rest := src[HeaderLength+int(h.BlockLength):]

	channel, n, err := getVarData(rest, "responseChannel")
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	s.ResponseChannel = string(channel)

	principal, _, err := getVarData(rest, "encodedPrincipal")
	if err != nil {
		return nil, err
	}
	s.EncodedPrincipal = append([]byte(nil), principal...)

	return s, nil
}

func putVarData(dst []byte, data []byte) int {
	binary.LittleEndian.PutUint32(dst, uint32(len(data)))
	copy(dst[varDataLengthSize:], data)
	return varDataLengthSize + len(data)
}

func getVarData(src []byte, field string) ([]byte, int, error) {
	if len(src) < varDataLengthSize {
		return nil, 0, domain.ErrTruncatedMessage.WithDetailsf("%s length prefix missing", field)
	}
	length := uint64(binary.LittleEndian.Uint32(src))
	end := uint64(varDataLengthSize) + length
	if uint64(len(src)) < end {
		return nil, 0, domain.ErrTruncatedMessage.WithDetailsf("%s declares %d bytes, have %d",
			field, length, len(src)-varDataLengthSize)
	}
	return src[varDataLengthSize:end], int(end), nil
}
