package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cardscan/internal/apiclient"
	"cardscan/internal/scan"
)

func newScansCommand(ctx *commandContext) *cobra.Command {
	scansCmd := &cobra.Command{
		Use:   "scans",
		Short: "Inspect scan history",
	}
	scansCmd.AddCommand(newScansListCommand(ctx))
	scansCmd.AddCommand(newScansClearFailedCommand(ctx))
	return scansCmd
}

func newScansListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]scan.Status, 0, len(statusFlags))
			for _, value := range statusFlags {
				status, ok := scan.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown scan status %q", value)
				}
				statuses = append(statuses, status)
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.ListScans(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					out := cmd.OutOrStdout()
					if len(resp.Scans) == 0 {
						fmt.Fprintln(out, "No scans")
						return nil
					}
					rows := make([][]string, 0, len(resp.Scans))
					for _, s := range resp.Scans {
						rows = append(rows, []string{
							s.ID,
							s.Status,
							fmt.Sprintf("%d/%d", s.ProcessedImages, s.TotalImages),
							strconv.Itoa(s.ResultCount),
							strconv.Itoa(s.AcceptedCount),
							orDash(s.CreatedAt),
						})
					}
					fmt.Fprint(out, renderTable(
						[]string{"ID", "Status", "Images", "Results", "Accepted", "Created"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
						nil,
					))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Only show scans in these statuses")
	return cmd
}

func newScansClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete failed scans and their images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.ClearFailed(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d failed scan(s)\n", resp.Removed)
					return nil
				})
			})
		},
	}
}
