package cmd

import (
	"fmt"
	"os"

	"github.com/medatechnology/polyorm/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(c *cli) *cobra.Command {
	ccmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(c.settings)
			if err != nil {
				return err
			}
			_, err = c.stdout.Write(data)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file.",
		Args:  cobra.MaximumNArgs(1),
		// init must work before any config exists.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFileName
			if len(args) == 1 {
				path = args[0]
			}
			if !force && fileExists(path) {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := config.DefaultSettings().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	ccmd.AddCommand(initCmd)
	return ccmd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
