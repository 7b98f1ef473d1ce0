package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crepo/internal/app"
	"crepo/internal/cr"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the repository database",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database, schema and default content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "db init", false, func(ctx context.Context, a *app.App) error {
				if err := a.InitDatabase(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Central repository initialized at schema %s\n", cr.CurrentSchema)
				return nil
			})
		},
	}

	upgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the schema to the software version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "db upgrade", false, func(ctx context.Context, a *app.App) error {
				res, err := a.Store().UpgradeSchema(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(res.Applied) == 0 {
					fmt.Fprintf(out, "Schema already at %s\n", res.To)
					return nil
				}
				fmt.Fprintf(out, "Upgraded schema from %s to %s (%d steps)\n", res.From, res.To, len(res.Applied))
				return nil
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the repository schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "db version", false, func(ctx context.Context, a *app.App) error {
				v, err := a.Store().SchemaVersion(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Repository schema: %s\n", v)
				fmt.Fprintf(out, "Software schema:   %s\n", cr.CurrentSchema)
				major, okMajor, err := a.Store().GetDBInfo(ctx, cr.CreationSchemaMajorVersionKey)
				if err != nil {
					return err
				}
				minor, okMinor, err := a.Store().GetDBInfo(ctx, cr.CreationSchemaMinorVersionKey)
				if err != nil {
					return err
				}
				if okMajor && okMinor {
					fmt.Fprintf(out, "Created at schema: %s.%s\n", major, minor)
				}
				return nil
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all content and restore the default content",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				fmt.Fprint(cmd.ErrOrStderr(), "This deletes every case, instance and reference set. Type 'reset' to continue: ")
				answer, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				if strings.TrimSpace(answer) != "reset" {
					return fmt.Errorf("reset aborted")
				}
			}
			return run(cmd, "db reset", true, func(ctx context.Context, a *app.App) error {
				if err := a.Store().Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Central repository reset")
				return nil
			})
		},
	}
	resetCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")

	cmd.AddCommand(initCmd, upgradeCmd, versionCmd, resetCmd)
	return cmd
}
