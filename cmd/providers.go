package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/medatechnology/polyorm/providers"
	"github.com/spf13/cobra"
)

func newProvidersCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered providers and configured entries.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := providers.Default(providers.WithLogger(c.logger))
			fmt.Fprintln(c.stdout, "Registered:")
			for _, name := range reg.Names() {
				fmt.Fprintf(c.stdout, "  %s\n", name)
			}

			fmt.Fprintln(c.stdout, "Configured:")
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			for _, p := range c.settings.Providers {
				mark := " "
				if strings.EqualFold(p.Name, c.settings.DefaultProvider) {
					mark = "*"
				}
				known := ""
				if !reg.Has(p.Provider) {
					known = "(unknown provider)"
				}
				fmt.Fprintf(tw, "%s %s\t%s\t%s\n", mark, p.Name, p.Provider, known)
			}
			return tw.Flush()
		},
	}
}
