// Package command provides CLI command definitions for clustersnap.
//
// It uses urfave/cli/v2 for command parsing. Offline commands (snapshot,
// config) work directly on the data directory; serve runs the node.
package command

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/clustersnap-go/internal/cli/output"
	"github.com/yndnr/clustersnap-go/internal/infra/buildinfo"
	"github.com/yndnr/clustersnap-go/internal/infra/confloader"
	"github.com/yndnr/clustersnap-go/internal/server/config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "clustersnap",
		Usage:   "Cluster snapshot archive and service node",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			SnapshotCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			_, err := output.ParseFormat(c.String("output"))
			return err
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			EnvVars: []string{"CLUSTERSNAP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Override storage.data_dir",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Override log.level (debug, info, warn, error)",
			EnvVars: []string{"CLUSTERSNAP_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	ConfigFile string
	DataDir    string
	LogLevel   string

	// Output format
	Output string // table, json, yaml
	Wide   bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		ConfigFile: c.String("config"),
		DataDir:    c.String("data-dir"),
		LogLevel:   c.String("log-level"),
		Output:     c.String("output"),
		Wide:       c.Bool("wide"),
	}
}

// overrides maps flag values onto configuration keys.
func (f *GlobalFlags) overrides() map[string]any {
	m := make(map[string]any)
	if f.DataDir != "" {
		m["storage.data_dir"] = f.DataDir
	}
	if f.LogLevel != "" {
		m["log.level"] = f.LogLevel
	}
	return m
}

// loadConfig builds the configuration from defaults, the config file, the
// environment and the flag overrides, in increasing priority. extra holds
// command-specific overrides.
func loadConfig(c *cli.Context, extra map[string]any) (*config.ServerConfig, *confloader.Loader, error) {
	flags := ParseGlobalFlags(c)

	overrides := flags.overrides()
	for k, v := range extra {
		overrides[k] = v
	}

	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(flags.ConfigFile),
		confloader.WithOverrides(overrides),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, loader, nil
}

// formatter returns the formatter selected by --output and --wide.
func formatter(c *cli.Context) output.Formatter {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		format = output.FormatTable
	}
	return output.NewFormatter(format, flags.Wide)
}

// isTable reports whether --output selects human-readable tables.
func isTable(c *cli.Context) bool {
	format, _ := output.ParseFormat(c.String("output"))
	return format == output.FormatTable
}

// stdout returns the writer command output goes to.
func stdout(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// stderr returns the writer progress and diagnostics go to.
func stderr(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
