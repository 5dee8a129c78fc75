package raftnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// Defaults.
const (
	DefaultApplyTimeout   = 5 * time.Second
	DefaultSnapshotRetain = 3
	maxPool               = 3
	transportTimeout      = 10 * time.Second
)

// ErrNotLeader is returned when a command is submitted to a follower.
var ErrNotLeader = errors.New("raftnode: not the leader")

// Config configures the Raft node.
type Config struct {
	// NodeID is the unique node identifier.
	NodeID string

	// BindAddr is the address to bind for Raft communication.
	BindAddr string

	// AdvertiseAddr is the address peers dial. Empty uses the bound address.
	AdvertiseAddr string

	// DataDir is the directory for Raft data.
	DataDir string

	// Bootstrap indicates if this is the bootstrap node.
	Bootstrap bool

	// SnapshotInterval and SnapshotThreshold override raft's automatic
	// snapshot policy when positive.
	SnapshotInterval  time.Duration
	SnapshotThreshold uint64

	// ApplyTimeout bounds a single replicated command.
	ApplyTimeout time.Duration

	// Logger for logging.
	Logger *slog.Logger
}

// Node wraps hashicorp/raft around a service FSM.
type Node struct {
	raft      *raft.Raft
	transport *raft.NetworkTransport
	fsm       *service.FSM
	config    *raft.Config
	logger    *slog.Logger
	timeout   time.Duration

	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore

	// Leader notifications
	leaderCh chan bool

	closeOnce sync.Once
	closeErr  error
}

// New creates a Raft node hosting fsm.
func New(cfg Config, fsm *service.FSM) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("raftnode: data_dir is required")
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("raftnode: node_id is required")
	}
	if fsm == nil {
		return nil, fmt.Errorf("raftnode: fsm is required")
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("raftnode: create data dir: %w", err)
	}

	logger := cfg.Logger.With("component", "raft", "node_id", cfg.NodeID)
	hcLogger := NewHCLogger(logger, "raft")

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = hcLogger

	// Tuning for lower latency
	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 500 * time.Millisecond
	if cfg.SnapshotInterval > 0 {
		raftConfig.SnapshotInterval = cfg.SnapshotInterval
	}
	if cfg.SnapshotThreshold > 0 {
		raftConfig.SnapshotThreshold = cfg.SnapshotThreshold
	}

	var advertise net.Addr
	if cfg.AdvertiseAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			return nil, fmt.Errorf("raftnode: resolve advertise addr: %w", err)
		}
		advertise = addr
	}
	if _, _, err := net.SplitHostPort(cfg.BindAddr); err != nil {
		return nil, fmt.Errorf("raftnode: bind addr: %w", err)
	}

	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, maxPool, transportTimeout,
		hcLogger.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("raftnode: create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("raftnode: create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("raftnode: create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(cfg.DataDir, DefaultSnapshotRetain,
		hcLogger.Named("snapshot"))
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("raftnode: create snapshot store: %w", err)
	}

	leaderCh := make(chan bool, 10)
	raftConfig.NotifyCh = leaderCh

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		// FileSnapshotStore has no Close method
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("raftnode: create raft: %w", err)
	}

	node := &Node{
		raft:        r,
		transport:   transport,
		fsm:         fsm,
		config:      raftConfig,
		logger:      logger,
		timeout:     cfg.ApplyTimeout,
		logStore:    logStore,
		stableStore: stableStore,
		leaderCh:    leaderCh,
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(cfg.NodeID),
					Address: transport.LocalAddr(),
				},
			},
		}

		err := r.BootstrapCluster(configuration).Error()
		switch {
		case err == nil:
			logger.Info("raft cluster bootstrapped", "addr", transport.LocalAddr())
		case errors.Is(err, raft.ErrCantBootstrap):
			logger.Debug("raft state exists, skipping bootstrap")
		default:
			node.Close()
			return nil, fmt.Errorf("raftnode: bootstrap cluster: %w", err)
		}
	}

	logger.Info("raft node created",
		"bind_addr", cfg.BindAddr,
		"local_addr", transport.LocalAddr(),
		"bootstrap", cfg.Bootstrap)

	return node, nil
}

// FSM returns the hosted state machine.
func (n *Node) FSM() *service.FSM {
	return n.fsm
}

// Apply replicates a command and waits for it to be applied.
func (n *Node) Apply(data []byte) error {
	if n.raft.State() != raft.Leader {
		return ErrNotLeader
	}
	f := n.raft.Apply(data, n.timeout)
	if err := f.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return ErrNotLeader
		}
		return fmt.Errorf("raftnode: apply: %w", err)
	}

	// Rejected commands come back as the FSM response
	if resp := f.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// OpenSession replicates a new client session.
func (n *Node) OpenSession(s *domain.ClientSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := service.NewOpenSessionCommand(s)
	if err != nil {
		return err
	}
	return n.Apply(data)
}

// CloseSession replicates the removal of a client session.
func (n *Node) CloseSession(id int64) error {
	data, err := service.NewCloseSessionCommand(id)
	if err != nil {
		return err
	}
	return n.Apply(data)
}

// IsLeader returns true if this node is the Raft leader.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// State returns the raft state name.
func (n *Node) State() string {
	return n.raft.State().String()
}

// Leader returns the current leader address and ID.
func (n *Node) Leader() (addr, id string) {
	a, i := n.raft.LeaderWithID()
	return string(a), string(i)
}

// WaitForLeader blocks until the cluster has a leader.
func (n *Node) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr, _ := n.raft.LeaderWithID(); addr != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("raftnode: wait for leader: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// AddVoter adds a voting member to the Raft cluster.
func (n *Node) AddVoter(nodeID, addr string) error {
	f := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, n.timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("raftnode: add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster.
func (n *Node) RemoveServer(nodeID string) error {
	f := n.raft.RemoveServer(raft.ServerID(nodeID), 0, n.timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("raftnode: remove server: %w", err)
	}
	return nil
}

// Snapshot triggers a raft snapshot, which takes a container snapshot.
func (n *Node) Snapshot() error {
	if err := n.raft.Snapshot().Error(); err != nil {
		return fmt.Errorf("raftnode: snapshot: %w", err)
	}
	return nil
}

// LeaderCh returns a channel that notifies on leader changes.
func (n *Node) LeaderCh() <-chan bool {
	return n.leaderCh
}

// Stats returns Raft statistics.
func (n *Node) Stats() map[string]string {
	return n.raft.Stats()
}

// Close gracefully shuts down the Raft node. It is safe to call more than once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.logger.Info("shutting down raft node")

		var errs []error
		if err := n.raft.Shutdown().Error(); err != nil {
			errs = append(errs, fmt.Errorf("raft shutdown: %w", err))
		}
		if err := n.stableStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stable store: %w", err))
		}
		if err := n.logStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log store: %w", err))
		}
		if err := n.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		n.closeErr = errors.Join(errs...)
		if n.closeErr != nil {
			n.logger.Error("raft node shutdown incomplete", "error", n.closeErr)
			return
		}
		n.logger.Info("raft node shutdown complete")
	})
	return n.closeErr
}
