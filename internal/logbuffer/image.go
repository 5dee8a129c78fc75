package logbuffer

// Action tells ControlledPoll what to do after a fragment.
type Action int

const (
	// ActionAbort leaves the fragment unconsumed and stops the poll.
	ActionAbort Action = iota

	// ActionBreak consumes the fragment and stops the poll.
	ActionBreak

	// ActionCommit consumes the fragment and continues.
	ActionCommit

	// ActionContinue consumes the fragment and continues.
	ActionContinue
)

func (a Action) String() string {
	switch a {
	case ActionAbort:
		return "ABORT"
	case ActionBreak:
		return "BREAK"
	case ActionCommit:
		return "COMMIT"
	case ActionContinue:
		return "CONTINUE"
	default:
		return "UNKNOWN"
	}
}

// Header describes the fragment passed to a handler.
type Header struct {
	// Offset is the stream position at the start of the frame.
	Offset int64

	// Position is the stream position after the frame.
	Position int64
}

// ControlledFragmentHandler consumes one fragment. buf is only valid for
// the duration of the call.
type ControlledFragmentHandler func(buf []byte, header Header) Action

// Image is the read side of a log segment.
type Image interface {
	// ControlledPoll delivers at most fragmentLimit fragments in order and
	// returns how many were consumed.
	ControlledPoll(handler ControlledFragmentHandler, fragmentLimit int) int

	// IsEndOfStream reports whether no further fragments will arrive.
	IsEndOfStream() bool

	// Position is the position after the last consumed fragment.
	Position() int64
}
