package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crepo/internal/app"
	"crepo/internal/cr"
)

func newRefsetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refset",
		Short: "Manage reference sets",
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create a reference set from a hash list",
		Long: `Create a reference set from a file holding one value per line.
A value may be followed by a comma and a comment. Use - to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			version, _ := cmd.Flags().GetString("version")
			statusName, _ := cmd.Flags().GetString("status")
			org, _ := cmd.Flags().GetString("org")
			typeName, _ := cmd.Flags().GetString("type")
			readOnly, _ := cmd.Flags().GetBool("read-only")

			status, err := cr.ParseKnownStatus(statusName)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			return run(cmd, "refset import", true, func(ctx context.Context, a *app.App) error {
				set, n, err := a.ImportReferenceSet(ctx, in, app.ImportRequest{
					Name:         name,
					Version:      version,
					Organization: org,
					Type:         typeName,
					Status:       status,
					ReadOnly:     readOnly,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries into reference set %d (%s %s)\n", n, set.ID, set.Name, set.Version)
				return nil
			})
		},
	}
	importCmd.Flags().String("name", "", "Reference set name")
	importCmd.Flags().String("version", "", "Reference set version")
	importCmd.Flags().String("status", "bad", "Known status of every entry: known or bad")
	importCmd.Flags().String("org", "", "Owning organization (defaults to the first one)")
	importCmd.Flags().String("type", "", "Correlation type (defaults to files)")
	importCmd.Flags().Bool("read-only", false, "Mark the set read-only")
	importCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reference sets of a correlation type",
		RunE: func(cmd *cobra.Command, args []string) error {
			typeName, _ := cmd.Flags().GetString("type")
			return run(cmd, "refset list", true, func(ctx context.Context, a *app.App) error {
				if typeName == "" {
					typeName = strconv.Itoa(cr.FilesTypeID)
				}
				t, err := a.ResolveType(ctx, typeName)
				if err != nil {
					return err
				}
				sets, err := a.Store().GetAllReferenceSets(ctx, t)
				if err != nil {
					return err
				}
				if len(sets) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s reference sets.\n", t.DisplayName)
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tVERSION\tSTATUS\tREAD ONLY\tIMPORTED")
				for _, s := range sets {
					status := ""
					if s.KnownStatus != nil {
						status = s.KnownStatus.String()
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n", s.ID, s.Name, s.Version, status, s.ReadOnly, s.ImportDate)
				}
				return w.Flush()
			})
		},
	}
	listCmd.Flags().String("type", "", "Correlation type (defaults to files)")

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a reference set and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, "refset delete", true, func(ctx context.Context, a *app.App) error {
				if err := a.Store().DeleteReferenceSet(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted reference set %d\n", id)
				return nil
			})
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup ID HASH",
		Short: "Check whether a reference set holds an MD5 hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, "refset lookup", true, func(ctx context.Context, a *app.App) error {
				hit, err := a.Store().LookupHash(ctx, args[1], id)
				if err != nil {
					return err
				}
				if hit == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s not in reference set %d\n", args[1], id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s found in reference set %d\n", hit.Value, hit.SetID)
				if len(hit.Comments) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Comments: %s\n", strings.Join(hit.Comments, "; "))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(importCmd, listCmd, deleteCmd, lookupCmd)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
