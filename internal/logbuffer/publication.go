package logbuffer

import "fmt"

// TryClaim results. Positive values are the new stream position.
const (
	// NotConnected means no subscriber is attached yet. Terminal for a snapshot.
	NotConnected int64 = -1

	// BackPressured means the flow-control window is full. Retry later.
	BackPressured int64 = -2

	// AdminAction means the channel is busy with internal work. Retry.
	AdminAction int64 = -3

	// Closed means the channel has been closed. Terminal.
	Closed int64 = -4

	// MaxPositionExceeded means the stream cannot grow further. Terminal.
	MaxPositionExceeded int64 = -5
)

// Publication is an append-only, single-writer output channel.
type Publication interface {
	// TryClaim reserves length bytes for a zero-copy write. On success it
	// wraps claim around the reserved region and returns the stream
	// position after the frame; otherwise it returns one of the negative
	// result codes. length must be in (0, MaxPayloadLength()].
	TryClaim(length int, claim *BufferClaim) int64

	// MaxPayloadLength is the largest length TryClaim accepts.
	MaxPayloadLength() int

	// Position is the position after the last claimed frame.
	Position() int64
}

// IsTerminal reports whether a TryClaim result cannot be resolved by retrying.
func IsTerminal(result int64) bool {
	return result == NotConnected || result == Closed || result == MaxPositionExceeded
}

// ResultString names a TryClaim result for logs and errors.
func ResultString(result int64) string {
	switch result {
	case NotConnected:
		return "NOT_CONNECTED"
	case BackPressured:
		return "BACK_PRESSURED"
	case AdminAction:
		return "ADMIN_ACTION"
	case Closed:
		return "CLOSED"
	case MaxPositionExceeded:
		return "MAX_POSITION_EXCEEDED"
	}
	if result >= 0 {
		return fmt.Sprintf("POSITION(%d)", result)
	}
	return fmt.Sprintf("UNKNOWN(%d)", result)
}
