package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/clustersnap-go/internal/cli/output"
	"github.com/yndnr/clustersnap-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the merged configuration (defaults, file, environment, flags)",
				Action: configShow,
			},
			{
				Name:      "test",
				Aliases:   []string{"validate"},
				Usage:     "Test a configuration file",
				ArgsUsage: "[FILE]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "offline",
						Usage: "Only check the sections offline commands use",
					},
				},
				Action: configTest,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, _, err := loadConfig(c, nil)
	if err != nil {
		return err
	}

	// Nested sections do not fit a table.
	f := formatter(c)
	if isTable(c) {
		f = output.NewFormatter(output.FormatYAML, false)
	}
	return f.Format(stdout(c), config.Sanitize(cfg))
}

func configTest(c *cli.Context) error {
	if path := c.Args().First(); path != "" {
		if err := c.Set("config", path); err != nil {
			return err
		}
	}

	cfg, loader, err := loadConfig(c, nil)
	if err != nil {
		return err
	}

	verify := config.Verify
	if c.Bool("offline") {
		verify = config.VerifyOffline
	}
	if err := verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	source := loader.FilePath()
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(stdout(c), "✓ Configuration is valid: %s\n", source)
	return nil
}
