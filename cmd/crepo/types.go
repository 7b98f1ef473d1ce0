package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crepo/internal/app"
)

func newTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Inspect correlation types",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List defined correlation types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "types list", true, func(ctx context.Context, a *app.App) error {
				types, err := a.Store().GetDefinedCorrelationTypes(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTABLE\tSUPPORTED\tENABLED")
				for _, t := range types {
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\n", t.ID, t.DisplayName, t.TableName, t.Supported, t.Enabled)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}
