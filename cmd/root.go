// Package cmd holds the polyorm command line.
package cmd

import (
	"context"
	"fmt"
	"io"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/config"
	"github.com/medatechnology/polyorm/providers"
	"github.com/spf13/cobra"
)

// cli carries what the persistent flags resolved to.
type cli struct {
	stdout, stderr io.Writer

	configPath string
	provider   string
	dsn        string
	logLevel   string

	settings *config.Settings
	logger   orm.Logger
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	rc := &cobra.Command{
		Use:   "polyorm",
		Short: "Inspect and exercise polyorm providers.",
		Long: `
polyorm opens any registered provider by name and runs commands against it.

Providers come from a YAML config file (see "polyorm config init") or
directly from the registry with --provider and --dsn.
`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return c.load() },
	}
	flags := rc.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "configuration file to read from")
	flags.StringVarP(&c.provider, "provider", "p", "", "config entry or registered provider name")
	flags.StringVar(&c.dsn, "dsn", "", "connection string, overrides the config entry")
	flags.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")

	rc.AddCommand(newProvidersCommand(c))
	rc.AddCommand(newStatusCommand(c))
	rc.AddCommand(newExecCommand(c, stdin))
	rc.AddCommand(newDemoCommand(c))
	rc.AddCommand(newConfigCommand(c))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func (c *cli) load() error {
	var err error
	if c.configPath != "" {
		c.settings, _, err = config.LoadFromPath(c.configPath)
	} else {
		c.settings, _, err = config.Load()
	}
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		c.settings.LogLevel = c.logLevel
		if err := c.settings.Validate(); err != nil {
			return err
		}
	}
	c.logger = orm.NewDefaultLoggerTo(c.stderr, c.settings.Level())
	orm.SetDefaultLogger(c.logger)
	return nil
}

// target resolves --provider and --dsn against the config. A name that is
// not a config entry is taken as a registry name.
func (c *cli) target() (provider, cs string) {
	if entry, ok := c.settings.Lookup(c.provider); ok {
		provider, cs = entry.Provider, entry.ConnectionString
	} else {
		provider = c.provider
	}
	if c.dsn != "" {
		cs = c.dsn
	}
	return provider, cs
}

func (c *cli) openDatabase(ctx context.Context) (orm.Database, error) {
	name, cs := c.target()
	reg := providers.Databases(providers.WithLogger(c.logger))
	if !reg.Has(name) {
		return nil, fmt.Errorf("%q has no low-level engine; choose one of %v", name, reg.Names())
	}
	return reg.Create(ctx, name, cs)
}

func (c *cli) openProvider(ctx context.Context) (orm.EntityProvider, error) {
	name, cs := c.target()
	return providers.Default(providers.WithLogger(c.logger)).Create(ctx, name, cs)
}
