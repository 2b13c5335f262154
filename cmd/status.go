package cmd

import (
	"context"
	"fmt"

	orm "github.com/medatechnology/polyorm"
	"github.com/spf13/cobra"
)

type statusReporter interface {
	Status(ctx context.Context) (orm.StatusStruct, error)
}

type nodeStatusReporter interface {
	Status(ctx context.Context) (orm.NodeStatusStruct, error)
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect to an engine and print its status.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := c.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			switch db := db.(type) {
			case nodeStatusReporter:
				st, err := db.Status(ctx)
				if err != nil {
					return err
				}
				st.PrintPretty(c.stdout)
			case statusReporter:
				st, err := db.Status(ctx)
				if err != nil {
					return err
				}
				st.PrintPretty(c.stdout, "", "Status")
			default:
				return fmt.Errorf("%s reports no status", db.Engine())
			}
			return nil
		},
	}
}
