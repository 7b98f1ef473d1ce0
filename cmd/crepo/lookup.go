package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"crepo/internal/app"
	"crepo/internal/cr"
)

func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup TYPE VALUE",
		Short: "Show where a value has been seen",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return run(cmd, "lookup", true, func(ctx context.Context, a *app.App) error {
				res, err := a.Lookup(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, res)
				}
				return printLookup(cmd, res)
			})
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func printLookup(cmd *cobra.Command, res *app.LookupResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", res.Type, res.Value)
	fmt.Fprintf(out, "Occurrences: %d  Frequency: %d%%  Notable: %t\n", res.Count, res.Frequency, res.KnownBad)
	if len(res.BadCases) > 0 {
		fmt.Fprintf(out, "Tagged notable in: %s\n", strings.Join(res.BadCases, ", "))
	}
	for _, ref := range res.References {
		fmt.Fprintf(out, "Reference set %d: %s %s\n", ref.SetID, ref.KnownStatus, ref.Comment)
	}
	if len(res.Instances) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tDATA SOURCE\tSTATUS\tPATH\tCOMMENT")
	for _, m := range res.Instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Case, m.DataSource, m.KnownStatus, m.FilePath, m.Comment)
	}
	return w.Flush()
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func newTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag TYPE VALUE",
		Short: "Set the known status of an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caseUUID, _ := cmd.Flags().GetString("case")
			objectID, _ := cmd.Flags().GetInt64("datasource-obj")
			dsName, _ := cmd.Flags().GetString("datasource-name")
			path, _ := cmd.Flags().GetString("path")
			comment, _ := cmd.Flags().GetString("comment")
			statusName, _ := cmd.Flags().GetString("status")

			status, err := cr.ParseKnownStatus(statusName)
			if err != nil {
				return err
			}
			return run(cmd, "tag", true, func(ctx context.Context, a *app.App) error {
				err := a.Tag(ctx, app.TagRequest{
					Type:               args[0],
					Value:              args[1],
					CaseUUID:           caseUUID,
					DataSourceObjectID: objectID,
					DataSourceName:     dsName,
					FilePath:           path,
					Comment:            comment,
					Status:             status,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s as %s\n", args[1], status)
				return nil
			})
		},
	}
	cmd.Flags().String("case", "", "Case UUID")
	cmd.Flags().Int64("datasource-obj", 0, "Data source object id within the case")
	cmd.Flags().String("datasource-name", "", "Data source name when it is created")
	cmd.Flags().String("path", "", "File path of the instance")
	cmd.Flags().String("comment", "", "Comment stored with the instance")
	cmd.Flags().String("status", "bad", "Known status: unknown, known or bad")
	cmd.MarkFlagRequired("case")
	return cmd
}
