package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/infra/buildinfo"
	"github.com/yndnr/clustersnap-go/internal/infra/confloader"
	"github.com/yndnr/clustersnap-go/internal/infra/shutdown"
	"github.com/yndnr/clustersnap-go/internal/server/config"
	"github.com/yndnr/clustersnap-go/internal/server/httpserver"
	"github.com/yndnr/clustersnap-go/internal/server/httpserver/handler"
	"github.com/yndnr/clustersnap-go/internal/server/raftnode"
	"github.com/yndnr/clustersnap-go/internal/storage"
	"github.com/yndnr/clustersnap-go/internal/storage/snapshot"
	"github.com/yndnr/clustersnap-go/internal/telemetry/logger"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a clustersnap node until SIGINT or SIGTERM",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "http-addr",
				Usage: "Override server.http.addr",
			},
			&cli.StringFlag{
				Name:  "raft-addr",
				Usage: "Override cluster.raft_addr",
			},
			&cli.StringFlag{
				Name:  "node-id",
				Usage: "Override cluster.node_id",
			},
			&cli.BoolFlag{
				Name:  "bootstrap",
				Usage: "Bootstrap a new single-voter cluster",
			},
			&cli.BoolFlag{
				Name:  "standalone",
				Usage: "Run without raft; sessions are applied locally",
			},
		},
		Action: serve,
	}
}

// serveOverrides maps the serve flags onto configuration keys.
func serveOverrides(c *cli.Context) map[string]any {
	m := make(map[string]any)
	if c.IsSet("http-addr") {
		m["server.http.addr"] = c.String("http-addr")
	}
	if c.IsSet("raft-addr") {
		m["cluster.raft_addr"] = c.String("raft-addr")
	}
	if c.IsSet("node-id") {
		m["cluster.node_id"] = c.String("node-id")
	}
	if c.IsSet("bootstrap") {
		m["cluster.bootstrap"] = c.Bool("bootstrap")
	}
	if c.Bool("standalone") {
		m["cluster.raft_addr"] = ""
	}
	return m
}

func serve(c *cli.Context) error {
	cfg, loader, err := loadConfig(c, serveOverrides(c))
	if err != nil {
		return err
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lc := cfg.LoggerConfig()
	lc.Output = stderr(c)
	log, err := logger.New(lc)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting clustersnap",
		"version", info.Version,
		"commit", info.Commit,
		"config", loader.FilePath())

	n, err := startNode(c.Context, cfg, loader, log.Slog())
	if err != nil {
		return err
	}
	log.Info("node started, press Ctrl+C to stop", "http_addr", n.Addr())
	return n.Wait()
}

// standaloneReplicator applies session commands to the local container.
type standaloneReplicator struct {
	container *service.Container
}

func (r standaloneReplicator) OpenSession(s *domain.ClientSession) error {
	return r.container.OpenSession(s)
}

func (r standaloneReplicator) CloseSession(id int64) error {
	return r.container.CloseSession(id)
}

func (standaloneReplicator) IsLeader() bool { return true }
func (standaloneReplicator) State() string  { return "Standalone" }

// node is a running clustersnap server.
type node struct {
	log       *slog.Logger
	shutdown  *shutdown.Handler
	container *service.Container
	archive   *snapshot.Manager
	raft      *raftnode.Node
	listener  net.Listener
}

// startNode opens storage, restores state, and starts the raft node and
// the HTTP server. Resources are released by the shutdown handler in
// reverse order of acquisition.
func startNode(ctx context.Context, cfg *config.ServerConfig, loader *confloader.Loader, log *slog.Logger) (*node, error) {
	n := &node{
		log:      log,
		shutdown: shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, shutdown.WithLogger(log)),
	}
	fail := func(err error) (*node, error) {
		n.shutdown.Trigger()
		if werr := n.shutdown.Wait(); werr != nil {
			log.Warn("cleanup after failed start", "error", werr)
		}
		return nil, err
	}

	var metrics *metric.Registry
	if cfg.Metrics.Enabled {
		metrics = metric.NewRegistry()
	}

	kv, err := storage.NewBadgerEngine(cfg.CatalogConfig(), log)
	if err != nil {
		return fail(fmt.Errorf("open catalog: %w", err))
	}
	n.shutdown.OnShutdown(func(context.Context) error {
		log.Info("closing snapshot catalog")
		return kv.Close()
	})
	if metrics != nil {
		kv.RegisterMetrics(metrics.Prometheus())
	}

	catalog := storage.NewCatalog(kv, storage.WithCatalogLogger(log), storage.WithCatalogMetrics(metrics))
	sc, err := cfg.SnapshotManagerConfig(log)
	if err != nil {
		return fail(err)
	}
	n.archive, err = snapshot.NewManager(sc, catalog)
	if err != nil {
		return fail(err)
	}
	if removed, err := n.archive.CleanupOrphans(ctx); err != nil {
		log.Warn("orphan recording cleanup failed", "error", err)
	} else if removed > 0 {
		log.Info("removed orphan recordings", "count", removed)
	}

	cc, err := cfg.ContainerConfig(log, metrics)
	if err != nil {
		return fail(err)
	}
	n.container = service.NewContainer(cc)
	metrics.MustRegister(metric.NewCollector(n.container.Stats))

	fsm := service.NewFSM(n.shutdown.Context(), n.container, log)

	var replicator handler.Replicator
	if cfg.Cluster.RaftAddr != "" {
		nodeID, err := cfg.ResolveNodeID()
		if err != nil {
			return fail(err)
		}
		n.raft, err = raftnode.New(raftnode.Config{
			NodeID:            nodeID,
			BindAddr:          cfg.Cluster.RaftAddr,
			DataDir:           cfg.RaftDataDir(),
			Bootstrap:         cfg.Cluster.Bootstrap,
			SnapshotInterval:  cfg.Snapshot.Interval,
			SnapshotThreshold: cfg.Snapshot.Threshold,
			ApplyTimeout:      cfg.Cluster.ApplyTimeout,
			Logger:            log,
		}, fsm)
		if err != nil {
			return fail(fmt.Errorf("start raft: %w", err))
		}
		n.shutdown.OnShutdown(func(context.Context) error {
			log.Info("stopping raft node")
			return n.raft.Close()
		})
		replicator = n.raft
	} else {
		if err := n.restoreLatest(ctx); err != nil {
			return fail(err)
		}
		replicator = standaloneReplicator{container: n.container}
	}

	if path := loader.FilePath(); path != "" {
		if err := n.watchConfig(path, loader); err != nil {
			log.Warn("config hot reload disabled", "error", err)
		}
	}

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Handler: handler.New(handler.Config{
			Container:  n.container,
			Replicator: replicator,
			Archive:    n.archive,
			Position:   fsm,
			Logger:     log,
		}),
		Metrics:         metrics,
		MetricsPath:     cfg.Metrics.Path,
		GlobalRateLimit: cfg.Server.HTTP.RateLimit,
		Logger:          log,
	})

	n.listener, err = net.Listen("tcp", cfg.Server.HTTP.Addr)
	if err != nil {
		return fail(fmt.Errorf("listen %s: %w", cfg.Server.HTTP.Addr, err))
	}
	srv := httpserver.New(n.listener.Addr().String(), router,
		httpserver.WithTimeouts(cfg.Server.HTTP.ReadTimeout, cfg.Server.HTTP.WriteTimeout),
		httpserver.WithLogger(log))
	n.shutdown.OnShutdown(func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})
	go func() {
		if err := srv.Serve(n.listener); err != nil {
			log.Error("http server error", "error", err)
			n.shutdown.Trigger()
		}
	}()

	return n, nil
}

// restoreLatest loads the newest archived snapshot into the container.
// An empty archive starts with no sessions.
func (n *node) restoreLatest(ctx context.Context) error {
	result, entry, err := n.archive.Restore(ctx, n.container, "")
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		n.log.Info("no archived snapshot, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore archived snapshot: %w", err)
	}
	n.log.Info("restored archived snapshot",
		"snapshot_id", entry.ID,
		"log_position", result.LogPosition,
		"sessions", result.Sessions)
	return nil
}

// watchConfig applies log.level changes from the config file while serving.
func (n *node) watchConfig(path string, loader *confloader.Loader) error {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(n.log))
	if err != nil {
		return err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return err
	}
	w.OnChange(func(string) {
		next := config.Default()
		if err := loader.Reload(next); err != nil {
			n.log.Warn("config reload failed", "error", err)
			return
		}
		if err := logger.SetLevel(next.Log.Level); err != nil {
			n.log.Warn("config reload: invalid log level", "level", next.Log.Level, "error", err)
			return
		}
		n.log.Info("config reloaded", "log_level", next.Log.Level)
	})
	w.StartAsync()
	n.shutdown.OnShutdown(func(context.Context) error {
		return w.Stop()
	})
	return nil
}

// Addr returns the bound HTTP address.
func (n *node) Addr() string {
	return n.listener.Addr().String()
}

// Stop begins a graceful shutdown.
func (n *node) Stop() {
	n.shutdown.Trigger()
}

// Wait blocks until shutdown completes.
func (n *node) Wait() error {
	err := n.shutdown.Wait()
	n.log.Info("node stopped")
	return err
}
