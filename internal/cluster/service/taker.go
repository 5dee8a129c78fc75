package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/logbuffer"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
	"github.com/yndnr/clustersnap-go/pkg/idle"
)

// AgentInvoker runs one duty cycle of a co-scheduled agent while the taker
// waits on back pressure. It returns the amount of work done.
type AgentInvoker interface {
	Invoke() int
}

// AgentInvokerFunc adapts a function to AgentInvoker.
type AgentInvokerFunc func() int

// Invoke implements AgentInvoker.
func (f AgentInvokerFunc) Invoke() int { return f() }

// PublicationError reports a terminal TryClaim result.
//
// It matches domain.ErrUnexpectedPublicationState with errors.Is.
type PublicationError struct {
	Op     string
	Result int64
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("service: %s: unexpected publication state %s", e.Op, logbuffer.ResultString(e.Result))
}

// Unwrap returns domain.ErrUnexpectedPublicationState.
func (e *PublicationError) Unwrap() error {
	return domain.ErrUnexpectedPublicationState.WithDetails(logbuffer.ResultString(e.Result))
}

// TakerOption configures a SnapshotTaker.
type TakerOption func(*SnapshotTaker)

// WithAgentInvoker sets the agent invoked between retries.
func WithAgentInvoker(invoker AgentInvoker) TakerOption {
	return func(t *SnapshotTaker) {
		t.invoker = invoker
	}
}

// WithTakerLogger sets the logger.
func WithTakerLogger(logger *slog.Logger) TakerOption {
	return func(t *SnapshotTaker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTakerMetrics sets the metrics registry.
func WithTakerMetrics(m *metric.Registry) TakerOption {
	return func(t *SnapshotTaker) {
		t.metrics = m
	}
}

// SnapshotTaker writes snapshot markers to a publication, retrying through
// back pressure until the claim succeeds, the publication fails, or the
// context is cancelled.
//
// A SnapshotTaker is driven by a single goroutine.
type SnapshotTaker struct {
	publication  logbuffer.Publication
	idleStrategy idle.Strategy
	invoker      AgentInvoker
	logger       *slog.Logger
	metrics      *metric.Registry

	warn  rate.Sometimes
	claim logbuffer.BufferClaim
}

// NewSnapshotTaker creates a taker writing to publication.
// A nil idleStrategy spins with yields.
func NewSnapshotTaker(publication logbuffer.Publication, idleStrategy idle.Strategy, opts ...TakerOption) *SnapshotTaker {
	if idleStrategy == nil {
		idleStrategy = idle.Yielding{}
	}
	t := &SnapshotTaker{
		publication:  publication,
		idleStrategy: idleStrategy,
		logger:       slog.Default(),
		warn:         rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Publication returns the publication the taker writes to.
func (t *SnapshotTaker) Publication() logbuffer.Publication {
	return t.publication
}

// MarkBegin writes the BEGIN marker of a snapshot.
func (t *SnapshotTaker) MarkBegin(ctx context.Context, typeID, logPosition, leadershipTermID int64,
	index int32, timeUnit codec.TimeUnit, appVersion int32) error {
	return t.MarkSnapshot(ctx, typeID, logPosition, leadershipTermID, index, codec.MarkBegin, timeUnit, appVersion)
}

// MarkEnd writes the END marker of a snapshot.
func (t *SnapshotTaker) MarkEnd(ctx context.Context, typeID, logPosition, leadershipTermID int64,
	index int32, timeUnit codec.TimeUnit, appVersion int32) error {
	return t.MarkSnapshot(ctx, typeID, logPosition, leadershipTermID, index, codec.MarkEnd, timeUnit, appVersion)
}

// MarkSnapshot writes one snapshot marker.
func (t *SnapshotTaker) MarkSnapshot(ctx context.Context, typeID, logPosition, leadershipTermID int64,
	index int32, mark codec.SnapshotMark, timeUnit codec.TimeUnit, appVersion int32) error {
	m := &codec.SnapshotMarker{
		TypeID:           typeID,
		LogPosition:      logPosition,
		LeadershipTermID: leadershipTermID,
		Index:            index,
		Mark:             mark,
		TimeUnit:         timeUnit,
		AppVersion:       appVersion,
	}
	if err := t.offer(ctx, m, "mark "+mark.String()); err != nil {
		return err
	}
	t.metrics.IncMarker(mark.String())
	t.logger.Debug("snapshot marker written",
		"mark", mark.String(),
		"type_id", typeID,
		"log_position", logPosition,
		"leadership_term_id", leadershipTermID,
		"position", t.publication.Position())
	return nil
}

// offer claims space for msg, encodes it in place and commits.
func (t *SnapshotTaker) offer(ctx context.Context, msg codec.Encodable, op string) error {
	length := msg.EncodedLength()
	if limit := t.publication.MaxPayloadLength(); length > limit {
		return fmt.Errorf("service: %s: %w", op,
			domain.ErrMessageTooLarge.WithDetailsf("encoded length %d exceeds %d", length, limit))
	}

	t.idleStrategy.Reset()
	for {
		result := t.publication.TryClaim(length, &t.claim)
		if result > 0 {
			if _, err := msg.Encode(t.claim.Buffer()); err != nil {
				t.claim.Abort()
				return fmt.Errorf("service: %s: encode: %w", op, err)
			}
			t.claim.Commit()
			return nil
		}
		if err := t.checkResultAndIdle(ctx, op, result); err != nil {
			return err
		}
	}
}

func (t *SnapshotTaker) checkResultAndIdle(ctx context.Context, op string, result int64) error {
	if logbuffer.IsTerminal(result) {
		t.metrics.IncPublicationFailure(logbuffer.ResultString(result))
		return &PublicationError{Op: op, Result: result}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("service: %s: %w", op, domain.ErrAgentTerminated.WithCause(err))
	}

	t.metrics.IncClaimRetry(logbuffer.ResultString(result))
	t.warn.Do(func() {
		t.logger.Warn("snapshot write delayed", "op", op, "result", logbuffer.ResultString(result))
	})

	if t.invoker != nil {
		t.invoker.Invoke()
	}
	t.idleStrategy.Idle()
	return nil
}
