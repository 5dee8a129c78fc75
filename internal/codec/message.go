package codec

import (
	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// Message is the closed set of messages this package understands:
// *SnapshotMarker, *ClientSession and *Unrecognized.
type Message interface {
	TemplateID() uint16
	isMessage()
}

// Encodable is a Message that can be written to a buffer.
type Encodable interface {
	Message
	EncodedLength() int
	Encode(dst []byte) (int, error)
}

// Unrecognized is a well-formed message of this schema whose template is
// not interpreted here, such as an application payload record.
type Unrecognized struct {
	Header MessageHeader
}

// TemplateID implements Message.
func (u *Unrecognized) TemplateID() uint16 { return u.Header.TemplateID }

func (*Unrecognized) isMessage() {}

// Decode reads one message from src.
//
// A header with a foreign schema id is rejected whatever its template id.
func Decode(src []byte) (Message, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	if h.SchemaID != SchemaID {
		return nil, domain.ErrUnexpectedSchema.WithDetailsf("expected schemaId=%d, actual=%d", SchemaID, h.SchemaID)
	}

	switch h.TemplateID {
	case SnapshotMarkerTemplateID:
		return DecodeSnapshotMarker(src, h)
	case ClientSessionTemplateID:
		return DecodeClientSession(src, h)
	default:
		return &Unrecognized{Header: h}, nil
	}
}
