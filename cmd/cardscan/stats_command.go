package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cardscan/internal/apiclient"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show collection totals and scan counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				stats, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return emit(cmd, ctx, stats, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprint(out, renderTable(
						[]string{"Metric", "Value"},
						[][]string{
							{"Unique cards", strconv.FormatInt(stats.UniqueCards, 10)},
							{"Total copies", strconv.FormatInt(stats.TotalCopies, 10)},
							{"Owned cards", strconv.FormatInt(stats.OwnedCards, 10)},
							{"Example cards", strconv.FormatInt(stats.ExampleCards, 10)},
							{"Value (USD)", fmt.Sprintf("%.2f", stats.ValueUSD)},
							{"Value (EUR)", fmt.Sprintf("%.2f", stats.ValueEUR)},
						},
						[]columnAlignment{alignLeft, alignRight},
						nil,
					))
					if rows := scanStatsRows(stats.ScansByStatus); len(rows) > 0 {
						fmt.Fprint(out, renderTable([]string{"Scan status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, nil))
					}
					return nil
				})
			})
		},
	}
}
