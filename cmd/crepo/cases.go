package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crepo/internal/app"
	"crepo/internal/cr"
)

func newCaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("uuid")
			name, _ := cmd.Flags().GetString("name")
			number, _ := cmd.Flags().GetString("number")
			examiner, _ := cmd.Flags().GetString("examiner")
			notes, _ := cmd.Flags().GetString("notes")
			orgName, _ := cmd.Flags().GetString("org")
			if id == "" {
				id = uuid.New().String()
			}

			return run(cmd, "case add", true, func(ctx context.Context, a *app.App) error {
				c := &cr.Case{
					UUID:         id,
					DisplayName:  name,
					CreationDate: time.Now().UTC().Format("2006/01/02 15:04:05 (MST)"),
					CaseNumber:   number,
					ExaminerName: examiner,
					Notes:        notes,
				}
				if orgName != "" {
					org, err := a.ResolveOrganization(ctx, orgName)
					if err != nil {
						return err
					}
					c.Org = org
				}
				stored, err := a.Store().GetOrCreateCase(ctx, c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Case %d: %s (%s)\n", stored.ID, stored.DisplayName, stored.UUID)
				return nil
			})
		},
	}
	addCmd.Flags().String("uuid", "", "Case UUID (generated when empty)")
	addCmd.Flags().String("name", "", "Case display name")
	addCmd.Flags().String("number", "", "Case number")
	addCmd.Flags().String("examiner", "", "Examiner name")
	addCmd.Flags().String("notes", "", "Notes")
	addCmd.Flags().String("org", "", "Owning organization")
	addCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, "case list", true, func(ctx context.Context, a *app.App) error {
				cases, err := a.Store().GetCases(ctx)
				if err != nil {
					return err
				}
				if len(cases) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No cases.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tUUID\tNAME\tNUMBER\tCREATED")
				for _, c := range cases {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.UUID, c.DisplayName, c.CaseNumber, c.CreationDate)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}
