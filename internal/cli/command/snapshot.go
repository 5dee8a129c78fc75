package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/clustersnap-go/internal/cli/output"
	"github.com/yndnr/clustersnap-go/internal/cluster/service"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
	"github.com/yndnr/clustersnap-go/internal/server/config"
	"github.com/yndnr/clustersnap-go/internal/storage"
	"github.com/yndnr/clustersnap-go/internal/storage/snapshot"
	"github.com/yndnr/clustersnap-go/internal/telemetry/logger"
)

// SnapshotCommand returns the snapshot subcommand group.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Aliases: []string{"snap"},
		Usage:   "Manage archived snapshots in the data directory",
		Subcommands: []*cli.Command{
			{
				Name:  "take",
				Usage: "Write a snapshot of the sessions in a YAML file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "sessions",
						Aliases:  []string{"f"},
						Usage:    "Sessions YAML file (- for stdin)",
						Required: true,
					},
					&cli.Int64Flag{
						Name:     "log-position",
						Aliases:  []string{"p"},
						Usage:    "Log position the snapshot is taken at",
						Required: true,
					},
					&cli.Int64Flag{
						Name:    "term",
						Aliases: []string{"t"},
						Usage:   "Leadership term id",
					},
				},
				Action: snapshotTake,
			},
			{
				Name:      "inspect",
				Aliases:   []string{"show"},
				Usage:     "Load a snapshot and print its header and sessions",
				ArgsUsage: "SNAPSHOT_ID|latest",
				Action:    snapshotInspect,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List archived snapshots, oldest first",
				Action:  snapshotList,
			},
			{
				Name:      "verify",
				Usage:     "Verify the segment checksums of a snapshot",
				ArgsUsage: "SNAPSHOT_ID|latest",
				Action:    snapshotVerify,
			},
			{
				Name:   "prune",
				Usage:  "Delete snapshots beyond the retention policy",
				Action: snapshotPrune,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a snapshot",
				ArgsUsage: "SNAPSHOT_ID",
				Action:    snapshotDelete,
			},
		},
	}
}

// snapshotView is a catalog entry as printed by the CLI.
type snapshotView struct {
	ID               string    `json:"id" yaml:"id"`
	TypeID           int64     `json:"type_id" yaml:"type_id" table:"wide"`
	LogPosition      int64     `json:"log_position" yaml:"log_position"`
	LeadershipTermID int64     `json:"leadership_term_id" yaml:"leadership_term_id"`
	AppVersion       string    `json:"app_version" yaml:"app_version"`
	TimeUnit         string    `json:"time_unit" yaml:"time_unit"`
	Sessions         int       `json:"sessions" yaml:"sessions"`
	SizeBytes        int64     `json:"size_bytes" yaml:"size_bytes" table:"wide"`
	Encryption       string    `json:"encryption,omitempty" yaml:"encryption,omitempty" table:"wide"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
	Dir              string    `json:"dir" yaml:"dir" table:"wide"`
}

func toSnapshotView(e *storage.CatalogEntry) snapshotView {
	v := snapshotView{
		ID:               e.ID,
		TypeID:           e.TypeID,
		LogPosition:      e.LogPosition,
		LeadershipTermID: e.LeadershipTermID,
		AppVersion:       service.VersionString(e.AppVersion),
		TimeUnit:         e.TimeUnit.String(),
		Sessions:         e.SessionCount,
		SizeBytes:        e.SizeBytes,
		CreatedAt:        e.CreatedAt,
		Dir:              e.Dir,
	}
	if e.Encryption != nil {
		v.Encryption = e.Encryption.Algorithm
	}
	return v
}

// sessionView prints a session without its principal.
type sessionView struct {
	ID               int64  `json:"id" yaml:"id"`
	ResponseStreamID int32  `json:"response_stream_id" yaml:"response_stream_id"`
	ResponseChannel  string `json:"response_channel" yaml:"response_channel"`
	PrincipalLength  int    `json:"principal_length" yaml:"principal_length"`
}

func toSessionViews(sessions []*domain.ClientSession) []sessionView {
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:               s.ID,
			ResponseStreamID: s.ResponseStreamID,
			ResponseChannel:  s.ResponseChannel,
			PrincipalLength:  len(s.EncodedPrincipal),
		})
	}
	return views
}

// inspectView is the output of "snapshot inspect".
type inspectView struct {
	Snapshot snapshotView  `json:"snapshot" yaml:"snapshot"`
	Sessions []sessionView `json:"sessions" yaml:"sessions"`
}

// archive is the snapshot archive of a data directory opened offline.
type archive struct {
	cfg     *config.ServerConfig
	logger  *slog.Logger
	kv      *storage.BadgerEngine
	manager *snapshot.Manager
}

func openArchive(c *cli.Context) (*archive, error) {
	cfg, _, err := loadConfig(c, nil)
	if err != nil {
		return nil, err
	}
	if err := config.VerifyOffline(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Offline commands stay quiet unless asked otherwise.
	lc := cfg.LoggerConfig()
	lc.Format = "text"
	lc.Output = stderr(c)
	if !c.IsSet("log-level") {
		lc.Level = "warn"
	}
	log, err := logger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	kv, err := storage.NewBadgerEngine(cfg.CatalogConfig(), log.Slog())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	sc, err := cfg.SnapshotManagerConfig(log.Slog())
	if err != nil {
		kv.Close()
		return nil, err
	}
	manager, err := snapshot.NewManager(sc, storage.NewCatalog(kv, storage.WithCatalogLogger(log.Slog())))
	if err != nil {
		kv.Close()
		return nil, err
	}
	return &archive{cfg: cfg, logger: log.Slog(), kv: kv, manager: manager}, nil
}

func (a *archive) Close() error {
	return a.kv.Close()
}

// newContainer creates an empty container configured like the server's.
func (a *archive) newContainer() (*service.Container, error) {
	cc, err := a.cfg.ContainerConfig(a.logger, nil)
	if err != nil {
		return nil, err
	}
	return service.NewContainer(cc), nil
}

// resolveID maps "latest" (or no argument) to the newest snapshot of the
// configured type.
func (a *archive) resolveID(ctx context.Context, arg string) (string, error) {
	if arg != "" && arg != "latest" {
		return arg, nil
	}
	latest, err := a.manager.Latest(ctx, a.cfg.Snapshot.TypeID)
	if err != nil {
		return "", err
	}
	return latest.ID, nil
}

func snapshotTake(c *cli.Context) error {
	sessions, err := readSessionsFile(c.String("sessions"), c.App.Reader)
	if err != nil {
		return err
	}

	a, err := openArchive(c)
	if err != nil {
		return err
	}
	defer a.Close()

	container, err := a.newContainer()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := container.OpenSession(s); err != nil {
			return err
		}
	}

	var spinner *output.Spinner
	if isTable(c) {
		spinner = output.NewSpinner(stderr(c), fmt.Sprintf("Writing snapshot of %d sessions", len(sessions)))
		spinner.Start()
	}
	entry, err := a.manager.Capture(c.Context, container, c.Int64("log-position"), c.Int64("term"))
	if err != nil {
		if spinner != nil {
			spinner.Fail("snapshot failed")
		}
		return err
	}
	if spinner != nil {
		spinner.Success("snapshot " + entry.ID + " written")
	}

	return formatter(c).Format(stdout(c), toSnapshotView(entry))
}

func snapshotInspect(c *cli.Context) error {
	a, err := openArchive(c)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.resolveID(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	container, err := a.newContainer()
	if err != nil {
		return err
	}
	result, entry, err := a.manager.Restore(c.Context, container, id)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", id, err)
	}

	view := inspectView{
		Snapshot: toSnapshotView(entry),
		Sessions: toSessionViews(container.Sessions()),
	}
	// The loaded header is authoritative over the catalog copy.
	view.Snapshot.AppVersion = service.VersionString(result.AppVersion)
	view.Snapshot.TimeUnit = result.TimeUnit.String()
	view.Snapshot.Sessions = result.Sessions

	if !isTable(c) {
		return formatter(c).Format(stdout(c), view)
	}
	f := formatter(c)
	w := stdout(c)
	if err := f.Format(w, view.Snapshot); err != nil {
		return err
	}
	fmt.Fprintln(w)
	if len(view.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	return f.Format(w, view.Sessions)
}

func snapshotList(c *cli.Context) error {
	a, err := openArchive(c)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.manager.List(c.Context)
	if err != nil {
		return err
	}
	views := make([]snapshotView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toSnapshotView(e))
	}
	if len(views) == 0 && isTable(c) {
		fmt.Fprintln(stdout(c), "No snapshots.")
		return nil
	}
	return formatter(c).Format(stdout(c), views)
}

func snapshotVerify(c *cli.Context) error {
	a, err := openArchive(c)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.resolveID(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	spinner := output.NewSpinner(stderr(c), "Verifying "+id)
	if isTable(c) {
		spinner.Start()
	}
	if err := a.manager.Verify(c.Context, id); err != nil {
		spinner.Fail(id + ": " + err.Error())
		return err
	}
	spinner.Success(id + ": ok")
	return nil
}

func snapshotPrune(c *cli.Context) error {
	a, err := openArchive(c)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.manager.Prune(c.Context)
	if err != nil {
		return err
	}
	if removed == nil {
		removed = []string{}
	}
	if isTable(c) {
		fmt.Fprintf(stdout(c), "Removed %d snapshot(s).\n", len(removed))
		for _, id := range removed {
			fmt.Fprintln(stdout(c), "  "+id)
		}
		return nil
	}
	return formatter(c).Format(stdout(c), map[string]any{"removed": removed})
}

func snapshotDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: %s", c.Command.ArgsUsage)
	}
	a, err := openArchive(c)
	if err != nil {
		return err
	}
	defer a.Close()

	id := c.Args().First()
	if err := a.manager.Delete(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Snapshot %s deleted.\n", id)
	return nil
}
