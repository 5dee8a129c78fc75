package service

import (
	"log/slog"

	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/logbuffer"
)

// Loader defaults.
const (
	// FragmentLimit caps the fragments consumed by one Poll.
	FragmentLimit = 10

	// SnapshotTypeID identifies the service snapshot stream.
	SnapshotTypeID int64 = 2

	// MaxPayloadLength is the default bound of one snapshot message. It
	// holds a session record at the domain limits.
	MaxPayloadLength = 16 * 1024
)

// SessionRegistrar receives the client sessions reinstated from a snapshot.
type SessionRegistrar interface {
	AddSession(clusterSessionID int64, responseStreamID int32, responseChannel string, encodedPrincipal []byte)
}

// SessionRegistrarFunc adapts a function to SessionRegistrar.
type SessionRegistrarFunc func(clusterSessionID int64, responseStreamID int32, responseChannel string, encodedPrincipal []byte)

// AddSession implements SessionRegistrar.
func (f SessionRegistrarFunc) AddSession(id int64, streamID int32, channel string, principal []byte) {
	f(id, streamID, channel, principal)
}

// LoaderState is the framing state of a SnapshotLoader.
type LoaderState int

const (
	StateAwaitingBegin LoaderState = iota
	StateInSnapshot
	StateDone
)

func (s LoaderState) String() string {
	switch s {
	case StateAwaitingBegin:
		return "AWAITING_BEGIN"
	case StateInSnapshot:
		return "IN_SNAPSHOT"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// LoaderOption configures a SnapshotLoader.
type LoaderOption func(*SnapshotLoader)

// WithSnapshotTypeID sets the marker type id the loader accepts.
func WithSnapshotTypeID(typeID int64) LoaderOption {
	return func(l *SnapshotLoader) {
		l.typeID = typeID
	}
}

// WithFragmentLimit overrides FragmentLimit.
func WithFragmentLimit(limit int) LoaderOption {
	return func(l *SnapshotLoader) {
		if limit > 0 {
			l.fragmentLimit = limit
		}
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *SnapshotLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// SnapshotLoader reads one service snapshot from an image.
//
// Each Poll consumes at most a bounded batch of fragments. The first
// framing error stops the loader: the offending fragment is left
// unconsumed and every later Poll returns the same error.
type SnapshotLoader struct {
	image         logbuffer.Image
	registrar     SessionRegistrar
	typeID        int64
	fragmentLimit int
	logger        *slog.Logger

	state            LoaderState
	appVersion       int32
	timeUnit         codec.TimeUnit
	logPosition      int64
	leadershipTermID int64
	sessions         int
	err              error

	handler logbuffer.ControlledFragmentHandler
}

// NewSnapshotLoader creates a loader over image that hands sessions to registrar.
func NewSnapshotLoader(image logbuffer.Image, registrar SessionRegistrar, opts ...LoaderOption) *SnapshotLoader {
	l := &SnapshotLoader{
		image:            image,
		registrar:        registrar,
		typeID:           SnapshotTypeID,
		fragmentLimit:    FragmentLimit,
		logger:           slog.Default(),
		timeUnit:         codec.TimeUnitNull,
		logPosition:      codec.NullInt64,
		leadershipTermID: codec.NullInt64,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.handler = l.onFragment
	return l
}

// Poll consumes up to one batch of fragments and returns how many were
// consumed. It returns 0 once the snapshot is done.
func (l *SnapshotLoader) Poll() (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.state == StateDone {
		return 0, nil
	}
	n := l.image.ControlledPoll(l.handler, l.fragmentLimit)
	return n, l.err
}

// IsDone reports whether the END marker has been consumed.
func (l *SnapshotLoader) IsDone() bool {
	return l.state == StateDone
}

// State returns the current framing state.
func (l *SnapshotLoader) State() LoaderState {
	return l.state
}

// AppVersion is the application version recorded in the BEGIN marker.
func (l *SnapshotLoader) AppVersion() int32 {
	return l.appVersion
}

// TimeUnit is the cluster time unit recorded in the BEGIN marker, with an
// unset unit resolved to milliseconds.
func (l *SnapshotLoader) TimeUnit() codec.TimeUnit {
	return l.timeUnit
}

// LogPosition is the log position recorded in the BEGIN marker.
func (l *SnapshotLoader) LogPosition() int64 {
	return l.logPosition
}

// LeadershipTermID is the leadership term recorded in the BEGIN marker.
func (l *SnapshotLoader) LeadershipTermID() int64 {
	return l.leadershipTermID
}

// SessionsLoaded is the number of sessions handed to the registrar.
func (l *SnapshotLoader) SessionsLoaded() int {
	return l.sessions
}

// Err returns the error that stopped the loader, if any.
func (l *SnapshotLoader) Err() error {
	return l.err
}

func (l *SnapshotLoader) onFragment(buf []byte, header logbuffer.Header) logbuffer.Action {
	msg, err := codec.Decode(buf)
	if err != nil {
		return l.fail(err, header)
	}

	switch m := msg.(type) {
	case *codec.SnapshotMarker:
		return l.onMarker(m, header)

	case *codec.ClientSession:
		if l.state != StateInSnapshot {
			return l.fail(domain.ErrMissingBeginSnapshot.WithDetailsf(
				"client session %d before BEGIN", m.ClusterSessionID), header)
		}
		l.registrar.AddSession(m.ClusterSessionID, m.ResponseStreamID, m.ResponseChannel, m.EncodedPrincipal)
		l.sessions++
		return logbuffer.ActionContinue

	case *codec.Unrecognized:
		l.logger.Debug("skipping unrecognized snapshot record",
			"template_id", m.Header.TemplateID,
			"position", header.Offset)
		return logbuffer.ActionContinue
	}
	return logbuffer.ActionContinue
}

func (l *SnapshotLoader) onMarker(m *codec.SnapshotMarker, header logbuffer.Header) logbuffer.Action {
	if m.TypeID != l.typeID {
		return l.fail(domain.ErrUnexpectedSnapshotType.WithDetailsf(
			"expected typeId=%d, actual=%d", l.typeID, m.TypeID), header)
	}

	switch m.Mark {
	case codec.MarkBegin:
		if l.state != StateAwaitingBegin {
			return l.fail(domain.ErrAlreadyInSnapshot.WithDetailsf("BEGIN in state %s", l.state), header)
		}
		l.state = StateInSnapshot
		l.appVersion = m.AppVersion
		l.timeUnit = codec.ResolveTimeUnit(m.TimeUnit)
		l.logPosition = m.LogPosition
		l.leadershipTermID = m.LeadershipTermID
		return logbuffer.ActionContinue

	case codec.MarkEnd:
		if l.state != StateInSnapshot {
			return l.fail(domain.ErrMissingBeginSnapshot.WithDetailsf("END in state %s", l.state), header)
		}
		l.state = StateDone
		return logbuffer.ActionBreak

	default:
		return l.fail(domain.ErrUnknownSnapshotMark.WithDetailsf("mark=%s", m.Mark), header)
	}
}

func (l *SnapshotLoader) fail(err error, header logbuffer.Header) logbuffer.Action {
	l.err = err
	l.logger.Error("snapshot load failed",
		"error", err,
		"state", l.state.String(),
		"position", header.Offset)
	return logbuffer.ActionAbort
}
