package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/logbuffer"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
	"github.com/yndnr/clustersnap-go/pkg/idle"
)

// Service is the application hosted by a Container. It owns the snapshot
// payload that follows the END marker.
type Service interface {
	// OnTakeSnapshot appends the application state after the session records.
	OnTakeSnapshot(ctx context.Context, pub logbuffer.Publication) error

	// OnLoadSnapshot reads the application state; image is positioned just
	// after the END marker.
	OnLoadSnapshot(ctx context.Context, image logbuffer.Image) error
}

// ContainerConfig configures a Container.
type ContainerConfig struct {
	// SnapshotTypeID marks this container's snapshots. Zero means SnapshotTypeID.
	SnapshotTypeID int64

	// AppVersion is recorded in snapshots this container takes.
	AppVersion int32

	// TimeUnit is the cluster clock unit recorded in snapshots.
	TimeUnit codec.TimeUnit

	// FragmentLimit caps fragments per loader poll. Zero means FragmentLimit.
	FragmentLimit int

	// MaxPayloadLength bounds one snapshot message. OpenSession rejects
	// sessions whose record would not fit. Zero means MaxPayloadLength.
	MaxPayloadLength int

	// AppVersionValidator rejects snapshots from incompatible versions.
	// Nil accepts every version.
	AppVersionValidator func(local, snapshot int32) bool

	Service Service

	// NewIdleStrategy creates the idle strategy for one take or load.
	// Nil means idle.NewBackoff with defaults.
	NewIdleStrategy func() idle.Strategy

	Invoker AgentInvoker
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// LoadResult describes a loaded snapshot.
type LoadResult struct {
	LogPosition      int64
	LeadershipTermID int64
	AppVersion       int32
	TimeUnit         codec.TimeUnit
	Sessions         int
}

// Container hosts the client sessions of a clustered service and takes and
// loads its snapshots.
type Container struct {
	cfg    ContainerConfig
	logger *slog.Logger

	mu                   sync.RWMutex
	sessions             map[int64]*domain.ClientSession
	lastSnapshotPosition int64
	snapshotAppVersion   int32
	snapshotTimeUnit     codec.TimeUnit
}

// NewContainer creates an empty container.
func NewContainer(cfg ContainerConfig) *Container {
	if cfg.SnapshotTypeID == 0 {
		cfg.SnapshotTypeID = SnapshotTypeID
	}
	if cfg.FragmentLimit <= 0 {
		cfg.FragmentLimit = FragmentLimit
	}
	if cfg.MaxPayloadLength <= 0 {
		cfg.MaxPayloadLength = MaxPayloadLength
	}
	if cfg.TimeUnit == codec.TimeUnitNull {
		cfg.TimeUnit = codec.TimeUnitMillis
	}
	if cfg.NewIdleStrategy == nil {
		cfg.NewIdleStrategy = func() idle.Strategy { return idle.NewBackoff(idle.BackoffConfig{}) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Container{
		cfg:                  cfg,
		logger:               logger.With("component", "container", "type_id", cfg.SnapshotTypeID),
		sessions:             make(map[int64]*domain.ClientSession),
		lastSnapshotPosition: codec.NullInt64,
		snapshotTimeUnit:     cfg.TimeUnit,
	}
}

// AddSession registers a session, replacing any session with the same id.
func (c *Container) AddSession(id int64, responseStreamID int32, responseChannel string, encodedPrincipal []byte) {
	s := &domain.ClientSession{
		ID:               id,
		ResponseStreamID: responseStreamID,
		ResponseChannel:  responseChannel,
		EncodedPrincipal: encodedPrincipal,
	}
	c.mu.Lock()
	c.sessions[id] = s
	n := len(c.sessions)
	c.mu.Unlock()
	c.cfg.Metrics.SetSessionsActive(n)
}

// OpenSession registers a new validated session. The session's record
// must fit the configured max payload so every later snapshot can hold it.
func (c *Container) OpenSession(s *domain.ClientSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if length := codec.NewClientSessionRecord(s).EncodedLength(); length > c.cfg.MaxPayloadLength {
		return domain.ErrSessionTooLarge.WithDetailsf("session %d encoded length %d exceeds %d",
			s.ID, length, c.cfg.MaxPayloadLength)
	}
	c.mu.Lock()
	if _, ok := c.sessions[s.ID]; ok {
		c.mu.Unlock()
		return domain.ErrSessionExists.WithDetailsf("session %d", s.ID)
	}
	cp := *s
	c.sessions[s.ID] = &cp
	n := len(c.sessions)
	c.mu.Unlock()

	c.cfg.Metrics.SetSessionsActive(n)
	c.logger.Debug("session opened", "cluster_session_id", s.ID, "response_stream_id", s.ResponseStreamID)
	return nil
}

// CloseSession removes a session.
func (c *Container) CloseSession(id int64) error {
	c.mu.Lock()
	if _, ok := c.sessions[id]; !ok {
		c.mu.Unlock()
		return domain.ErrSessionNotFound.WithDetailsf("session %d", id)
	}
	delete(c.sessions, id)
	n := len(c.sessions)
	c.mu.Unlock()

	c.cfg.Metrics.SetSessionsActive(n)
	c.logger.Debug("session closed", "cluster_session_id", id)
	return nil
}

// Session returns a copy of the session with id.
func (c *Container) Session(id int64) (*domain.ClientSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Sessions returns copies of all sessions ordered by id.
func (c *Container) Sessions() []*domain.ClientSession {
	c.mu.RLock()
	out := make([]*domain.ClientSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		cp := *s
		out = append(out, &cp)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SessionCount returns the number of registered sessions.
func (c *Container) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Stats returns a point-in-time view for metrics.
func (c *Container) Stats() metric.ContainerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos := c.lastSnapshotPosition
	if pos == codec.NullInt64 {
		pos = 0
	}
	return metric.ContainerStats{
		Sessions:             len(c.sessions),
		LastSnapshotPosition: pos,
		AppVersion:           c.snapshotAppVersion,
	}
}

// TakeSnapshot writes BEGIN, every registered session, END and then the
// service payload.
func (c *Container) TakeSnapshot(ctx context.Context, pub logbuffer.Publication, logPosition, leadershipTermID int64) error {
	return c.WriteSnapshot(ctx, pub, c.Sessions(), logPosition, leadershipTermID)
}

// WriteSnapshot is TakeSnapshot over a previously captured session list.
func (c *Container) WriteSnapshot(ctx context.Context, pub logbuffer.Publication, sessions []*domain.ClientSession,
	logPosition, leadershipTermID int64) (err error) {
	start := time.Now()
	defer func() {
		c.cfg.Metrics.ObserveSnapshot("take", err, time.Since(start))
		if err != nil && !IsTermination(err) {
			c.logger.Error("snapshot take failed", "log_position", logPosition, "error", err)
		}
	}()

	taker := NewServiceSnapshotTaker(NewSnapshotTaker(pub, c.cfg.NewIdleStrategy(),
		WithAgentInvoker(c.cfg.Invoker),
		WithTakerLogger(c.logger),
		WithTakerMetrics(c.cfg.Metrics)))

	typeID, unit, version := c.cfg.SnapshotTypeID, c.cfg.TimeUnit, c.cfg.AppVersion
	if err = taker.MarkBegin(ctx, typeID, logPosition, leadershipTermID, 0, unit, version); err != nil {
		return err
	}
	for _, s := range sessions {
		if err = taker.SnapshotSession(ctx, s); err != nil {
			return err
		}
	}
	if err = taker.MarkEnd(ctx, typeID, logPosition, leadershipTermID, 0, unit, version); err != nil {
		return err
	}
	if c.cfg.Service != nil {
		if err = c.cfg.Service.OnTakeSnapshot(ctx, pub); err != nil {
			return fmt.Errorf("service: take snapshot payload: %w", err)
		}
	}

	c.mu.Lock()
	c.lastSnapshotPosition = logPosition
	c.mu.Unlock()

	c.logger.Info("snapshot taken",
		"log_position", logPosition,
		"leadership_term_id", leadershipTermID,
		"sessions", len(sessions),
		"app_version", VersionString(version),
		"duration", time.Since(start))
	return nil
}

// LoadSnapshot replaces the registered sessions with those in the snapshot
// read from image, then hands the image to the service. On failure the
// container keeps its previous sessions.
func (c *Container) LoadSnapshot(ctx context.Context, image logbuffer.Image) (result *LoadResult, err error) {
	start := time.Now()
	defer func() {
		c.cfg.Metrics.ObserveSnapshot("load", err, time.Since(start))
		if err != nil {
			c.cfg.Metrics.IncLoadError(domain.GetErrorCode(err))
		}
	}()

	staged := make(map[int64]*domain.ClientSession)
	loader := NewSnapshotLoader(image, SessionRegistrarFunc(
		func(id int64, streamID int32, channel string, principal []byte) {
			staged[id] = &domain.ClientSession{
				ID:               id,
				ResponseStreamID: streamID,
				ResponseChannel:  channel,
				EncodedPrincipal: principal,
			}
		}),
		WithSnapshotTypeID(c.cfg.SnapshotTypeID),
		WithFragmentLimit(c.cfg.FragmentLimit),
		WithLoaderLogger(c.logger))

	if err = c.pollUntilDone(ctx, loader, image); err != nil {
		return nil, err
	}

	if v := c.cfg.AppVersionValidator; v != nil && !v(c.cfg.AppVersion, loader.AppVersion()) {
		return nil, domain.ErrIncompatibleAppVersion.WithDetailsf("local=%s snapshot=%s",
			VersionString(c.cfg.AppVersion), VersionString(loader.AppVersion()))
	}

	if c.cfg.Service != nil {
		if err = c.cfg.Service.OnLoadSnapshot(ctx, image); err != nil {
			return nil, fmt.Errorf("service: load snapshot payload: %w", err)
		}
	}

	c.mu.Lock()
	c.sessions = staged
	c.lastSnapshotPosition = loader.LogPosition()
	c.snapshotAppVersion = loader.AppVersion()
	c.snapshotTimeUnit = loader.TimeUnit()
	c.mu.Unlock()

	c.cfg.Metrics.SetSessionsActive(len(staged))
	c.cfg.Metrics.AddSessionsLoaded(loader.SessionsLoaded())

	result = &LoadResult{
		LogPosition:      loader.LogPosition(),
		LeadershipTermID: loader.LeadershipTermID(),
		AppVersion:       loader.AppVersion(),
		TimeUnit:         loader.TimeUnit(),
		Sessions:         loader.SessionsLoaded(),
	}
	c.logger.Info("snapshot loaded",
		"log_position", result.LogPosition,
		"leadership_term_id", result.LeadershipTermID,
		"sessions", result.Sessions,
		"app_version", VersionString(result.AppVersion),
		"time_unit", result.TimeUnit.String(),
		"duration", time.Since(start))
	return result, nil
}

func (c *Container) pollUntilDone(ctx context.Context, loader *SnapshotLoader, image logbuffer.Image) error {
	idleStrategy := c.cfg.NewIdleStrategy()
	idleStrategy.Reset()
	for !loader.IsDone() {
		n, err := loader.Poll()
		if err != nil {
			return fmt.Errorf("service: load snapshot: %w", err)
		}
		if n == 0 {
			if image.IsEndOfStream() {
				err := domain.ErrIncompleteSnapshot.WithDetailsf("end of stream in state %s after %d sessions",
					loader.State(), loader.SessionsLoaded())
				if src, ok := image.(interface{ Err() error }); ok && src.Err() != nil {
					return err.WithCause(src.Err())
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("service: load snapshot: %w", domain.ErrAgentTerminated.WithCause(err))
			}
		}
		if c.cfg.Invoker != nil {
			c.cfg.Invoker.Invoke()
		}
		idleStrategy.IdleWork(n)
	}
	return nil
}

// MaxPayloadLength is the largest snapshot message this container writes.
func (c *Container) MaxPayloadLength() int {
	return c.cfg.MaxPayloadLength
}

// Descriptor returns the type id, application version and time unit this
// container records in the snapshots it takes.
func (c *Container) Descriptor() (typeID int64, appVersion int32, timeUnit codec.TimeUnit) {
	return c.cfg.SnapshotTypeID, c.cfg.AppVersion, c.cfg.TimeUnit
}

// SnapshotTimeUnit is the clock unit of the last loaded snapshot, or the
// configured unit if none was loaded.
func (c *Container) SnapshotTimeUnit() codec.TimeUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotTimeUnit
}

// SnapshotAppVersion is the application version of the last loaded snapshot.
func (c *Container) SnapshotAppVersion() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotAppVersion
}

// IsTermination reports whether err is a termination request rather than
// a snapshot failure.
func IsTermination(err error) bool {
	return errors.Is(err, domain.ErrAgentTerminated)
}
