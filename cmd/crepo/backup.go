package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crepo/internal/app"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and restore the repository",
	}

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage snapshot encryption keys",
	}
	keysInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the snapshot key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := passphrase(cmd, "Passphrase: ")
			if err != nil {
				return err
			}
			if !envPassphraseSet() {
				again, err := readSecret(cmd.InOrStdin(), "Repeat passphrase: ")
				if err != nil {
					return err
				}
				if again != pass {
					return errors.New("passphrases do not match")
				}
			}
			return run(cmd, "backup keys init", false, func(ctx context.Context, a *app.App) error {
				if err := a.SetupKeys(pass); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Snapshot keys created.")
				return nil
			})
		},
	}
	keysCmd.AddCommand(keysInitCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Archive an encrypted snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			return run(cmd, "backup run", true, func(ctx context.Context, a *app.App) error {
				archived, err := a.Backup(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", archived)
				return nil
			})
		},
	}
	runCmd.Flags().String("name", "", "Snapshot name (defaults to the operation id)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return run(cmd, "backup list", false, func(ctx context.Context, a *app.App) error {
				infos, err := a.ListBackups(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, infos)
				}
				if len(infos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No snapshots.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSCHEMA")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\n", info.Name, info.Schema)
				}
				return w.Flush()
			})
		},
	}
	listCmd.Flags().Bool("json", false, "Print JSON")

	restoreCmd := &cobra.Command{
		Use:   "restore NAME DEST",
		Short: "Restore a snapshot into a new database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, dest := args[0], args[1]
			var pass string
			if !strings.HasSuffix(name, ".db") {
				var err error
				if pass, err = passphrase(cmd, "Passphrase: "); err != nil {
					return err
				}
			}
			return run(cmd, "backup restore", false, func(ctx context.Context, a *app.App) error {
				if err := a.Restore(ctx, name, dest, pass); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %s to %s\n", name, dest)
				return nil
			})
		},
	}

	cmd.AddCommand(keysCmd, runCmd, listCmd, restoreCmd)
	return cmd
}
