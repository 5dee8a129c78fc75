package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/raft"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/logbuffer"
)

// CommandType identifies a replicated container command.
type CommandType uint8

const (
	// CommandOpenSession registers a client session.
	CommandOpenSession CommandType = 1

	// CommandCloseSession removes a client session.
	CommandCloseSession CommandType = 2
)

// Command is one raft log entry.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CloseSessionPayload is the payload of CommandCloseSession.
type CloseSessionPayload struct {
	ID int64 `json:"id"`
}

// NewOpenSessionCommand encodes an open_session command.
func NewOpenSessionCommand(s *domain.ClientSession) ([]byte, error) {
	return encodeCommand(CommandOpenSession, s)
}

// NewCloseSessionCommand encodes a close_session command.
func NewCloseSessionCommand(id int64) ([]byte, error) {
	return encodeCommand(CommandCloseSession, CloseSessionPayload{ID: id})
}

func encodeCommand(t CommandType, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("service: encode command payload: %w", err)
	}
	return json.Marshal(Command{Type: t, Payload: p})
}

// FSM replicates a Container through raft. Raft snapshots are container
// snapshots: BEGIN, sessions, END framed with logbuffer frames and
// gzip-compressed.
type FSM struct {
	container *Container
	logger    *slog.Logger
	ctx       context.Context

	lastIndex atomic.Uint64
	lastTerm  atomic.Uint64
}

// NewFSM creates an FSM over container. ctx bounds snapshot writes.
func NewFSM(ctx context.Context, container *Container, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &FSM{
		container: container,
		logger:    logger.With("component", "fsm"),
		ctx:       ctx,
	}
}

// Container returns the replicated container.
func (f *FSM) Container() *Container {
	return f.container
}

// LastApplied returns the index and term of the last applied entry.
func (f *FSM) LastApplied() (index, term uint64) {
	return f.lastIndex.Load(), f.lastTerm.Load()
}

// Apply applies one committed command. Malformed entries panic since the
// replicated state can no longer be trusted; rejected commands return
// their error as the apply response.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		f.logger.Error("FATAL: failed to unmarshal log entry", "error", err, "log_index", log.Index, "log_term", log.Term)
		panic(fmt.Sprintf("FSM.Apply: unmarshal failed at index=%d: %v", log.Index, err))
	}

	defer func() {
		f.lastIndex.Store(log.Index)
		f.lastTerm.Store(log.Term)
	}()

	switch cmd.Type {
	case CommandOpenSession:
		var s domain.ClientSession
		if err := json.Unmarshal(cmd.Payload, &s); err != nil {
			panic(fmt.Sprintf("FSM.Apply: open_session payload at index=%d: %v", log.Index, err))
		}
		if err := f.container.OpenSession(&s); err != nil {
			return err
		}
		return nil

	case CommandCloseSession:
		var p CloseSessionPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			panic(fmt.Sprintf("FSM.Apply: close_session payload at index=%d: %v", log.Index, err))
		}
		if err := f.container.CloseSession(p.ID); err != nil {
			return err
		}
		return nil

	default:
		f.logger.Error("FATAL: unknown command type", "type", cmd.Type, "log_index", log.Index)
		panic(fmt.Sprintf("FSM.Apply: unknown command type %d at index=%d", cmd.Type, log.Index))
	}
}

// Snapshot captures the registered sessions at the last applied index.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{
		fsm:      f,
		sessions: f.container.Sessions(),
		index:    f.lastIndex.Load(),
		term:     f.lastTerm.Load(),
	}, nil
}

// Restore replaces the container state with a persisted snapshot.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("service: create gzip reader: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return fmt.Errorf("service: read snapshot: %w", err)
	}

	image := logbuffer.NewBytesImage(data)
	result, err := f.container.LoadSnapshot(f.ctx, image)
	if err != nil {
		return fmt.Errorf("service: restore: %w", err)
	}

	f.lastIndex.Store(uint64(result.LogPosition))
	f.lastTerm.Store(uint64(result.LeadershipTermID))
	f.logger.Info("fsm state restored from snapshot",
		"log_position", result.LogPosition,
		"sessions", result.Sessions)
	return nil
}

type fsmSnapshot struct {
	fsm      *FSM
	sessions []*domain.ClientSession
	index    uint64
	term     uint64
}

// Persist writes the captured sessions as a container snapshot.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		var buf bytes.Buffer
		pub := logbuffer.NewStreamPublication(&buf, s.fsm.container.MaxPayloadLength())
		if err := s.fsm.container.WriteSnapshot(s.fsm.ctx, pub, s.sessions, int64(s.index), int64(s.term)); err != nil {
			return err
		}
		if err := pub.Err(); err != nil {
			return err
		}

		gz := gzip.NewWriter(sink)
		if _, err := gz.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("service: write snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("service: close gzip writer: %w", err)
		}
		return nil
	}()

	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
