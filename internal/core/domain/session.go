package domain

import (
	"bytes"
	"fmt"
)

// Client session constraints.
const (
	// MaxEncodedPrincipalLength bounds the opaque authentication principal.
	MaxEncodedPrincipalLength = 4 * 1024

	// MaxResponseChannelLength bounds the response channel URI.
	MaxResponseChannelLength = 4 * 1024
)

// ClientSession is a client connected to the clustered service.
//
// Sessions are reinstated from snapshots: the loader decodes a session
// record and hands its fields to the owning container, which creates the
// ClientSession and owns it from then on.
type ClientSession struct {
	// ID is the cluster-wide session identifier.
	ID int64 `json:"id"`

	// ResponseStreamID is the stream id egress messages are sent on.
	ResponseStreamID int32 `json:"response_stream_id"`

	// ResponseChannel is the channel URI egress messages are sent to.
	ResponseChannel string `json:"response_channel"`

	// EncodedPrincipal is the opaque principal produced by the authenticator.
	EncodedPrincipal []byte `json:"encoded_principal,omitempty"`

	// Closing is set once a close has been requested but not yet applied.
	Closing bool `json:"closing,omitempty"`
}

// NewClientSession creates a validated client session.
func NewClientSession(id int64, responseStreamID int32, responseChannel string, encodedPrincipal []byte) (*ClientSession, error) {
	s := &ClientSession{
		ID:               id,
		ResponseStreamID: responseStreamID,
		ResponseChannel:  responseChannel,
		EncodedPrincipal: encodedPrincipal,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the session fields against the wire limits.
func (s *ClientSession) Validate() error {
	if len(s.ResponseChannel) > MaxResponseChannelLength {
		return ErrInvalidArgument.WithDetailsf("response channel length %d exceeds %d",
			len(s.ResponseChannel), MaxResponseChannelLength)
	}
	if len(s.EncodedPrincipal) > MaxEncodedPrincipalLength {
		return ErrInvalidArgument.WithDetailsf("encoded principal length %d exceeds %d",
			len(s.EncodedPrincipal), MaxEncodedPrincipalLength)
	}
	return nil
}

// Equal reports whether two sessions carry the same persisted fields.
// The Closing flag is transient and not compared.
func (s *ClientSession) Equal(other *ClientSession) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.ID == other.ID &&
		s.ResponseStreamID == other.ResponseStreamID &&
		s.ResponseChannel == other.ResponseChannel &&
		bytes.Equal(s.EncodedPrincipal, other.EncodedPrincipal)
}

// String returns a log-safe description (the principal is never printed).
func (s *ClientSession) String() string {
	return fmt.Sprintf("ClientSession{id=%d, responseStreamId=%d, responseChannel=%q, principalLength=%d}",
		s.ID, s.ResponseStreamID, s.ResponseChannel, len(s.EncodedPrincipal))
}
