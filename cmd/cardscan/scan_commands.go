package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cardscan/internal/api"
	"cardscan/internal/apiclient"
	"cardscan/internal/scan"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Upload, process, and review scans",
	}

	scanCmd.AddCommand(newScanUploadCommand(ctx))
	scanCmd.AddCommand(newScanProcessCommand(ctx))
	scanCmd.AddCommand(newScanStatusCommand(ctx))
	scanCmd.AddCommand(newScanWatchCommand(ctx))
	scanCmd.AddCommand(newScanResultsCommand(ctx))
	scanCmd.AddCommand(newScanReviewCommand(ctx, true))
	scanCmd.AddCommand(newScanReviewCommand(ctx, false))
	scanCmd.AddCommand(newScanCommitCommand(ctx))
	scanCmd.AddCommand(newScanCancelCommand(ctx))
	scanCmd.AddCommand(newScanAIResponseCommand(ctx))
	scanCmd.AddCommand(newScanImageCommand(ctx))

	return scanCmd
}

func newScanUploadCommand(ctx *commandContext) *cobra.Command {
	var process bool
	var wait bool

	cmd := &cobra.Command{
		Use:   "upload <image>...",
		Short: "Create a scan from one or more photos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Upload(cmd.Context(), args)
				if err != nil {
					return err
				}
				if !process {
					return emit(cmd, ctx, resp, func() error {
						fmt.Fprintf(cmd.OutOrStdout(), "Created scan %s with %d image(s)\n", resp.ScanID, resp.TotalImages)
						fmt.Fprintf(cmd.OutOrStdout(), "Run `cardscan scan process %s` to identify the cards\n", resp.ScanID)
						return nil
					})
				}
				status, err := client.ProcessWithRetry(cmd.Context(), resp.ScanID, 3, time.Second)
				if err != nil {
					return err
				}
				if wait {
					status, err = watchScan(cmd, ctx, client, resp.ScanID)
					if err != nil {
						return err
					}
				}
				return emit(cmd, ctx, status, func() error {
					printStatus(cmd.OutOrStdout(), status)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&process, "process", "p", false, "Start processing right after upload")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "With --process, wait until the scan is ready for review")
	return cmd
}

func newScanProcessCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "process <scan-id>",
		Short: "Start identifying the cards in a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				status, err := client.ProcessWithRetry(cmd.Context(), args[0], 3, time.Second)
				if err != nil {
					return err
				}
				if wait {
					if status, err = watchScan(cmd, ctx, client, args[0]); err != nil {
						return err
					}
				}
				return emit(cmd, ctx, status, func() error {
					printStatus(cmd.OutOrStdout(), status)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the scan is ready for review")
	return cmd
}

func newScanStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show scan progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				status, err := client.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, ctx, status, func() error {
					printStatus(cmd.OutOrStdout(), status)
					return nil
				})
			})
		},
	}
}

func newScanWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <scan-id>",
		Short: "Poll a scan until processing finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				status, err := watchScan(cmd, ctx, client, args[0])
				if err != nil {
					return err
				}
				return emit(cmd, ctx, status, func() error {
					printStatus(cmd.OutOrStdout(), status)
					return nil
				})
			})
		},
	}
}

// watchScan polls until the scan settles, printing one progress line per
// change unless JSON output was requested.
func watchScan(cmd *cobra.Command, ctx *commandContext, client *apiclient.Client, scanID string) (api.ScanStatus, error) {
	out := cmd.OutOrStdout()
	var lastLine string
	return client.Watch(cmd.Context(), scanID, apiclient.WatchOptions{
		Interval: watchInterval,
		OnUpdate: func(status api.ScanStatus) {
			if ctx.jsonOutput() {
				return
			}
			line := fmt.Sprintf("%s: %d/%d images processed", status.Status, status.ProcessedImages, status.TotalImages)
			if line != lastLine {
				fmt.Fprintln(out, line)
				lastLine = line
			}
		},
	})
}

// watchInterval is a variable so tests can poll faster.
var watchInterval = 2 * time.Second

func printStatus(out io.Writer, status api.ScanStatus) {
	fmt.Fprintf(out, "Scan %s: %s\n", status.ScanID, status.Status)
	fmt.Fprintf(out, "  Images:  %d/%d processed", status.ProcessedImages, status.TotalImages)
	var notes []string
	if status.FailedImages > 0 {
		notes = append(notes, fmt.Sprintf("%d failed", status.FailedImages))
	}
	if status.RefusedImages > 0 {
		notes = append(notes, fmt.Sprintf("%d refused", status.RefusedImages))
	}
	if status.EmptyImages > 0 {
		notes = append(notes, fmt.Sprintf("%d without cards", status.EmptyImages))
	}
	if len(notes) > 0 {
		fmt.Fprintf(out, " (%s)", strings.Join(notes, ", "))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Results: %d (%d accepted, %d rejected, %d pending)\n",
		status.ResultCount, status.AcceptedCount, status.RejectedCount, status.PendingCount)
	if status.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:   %s\n", status.ErrorMessage)
	}
	if status.Status == string(scan.StatusReadyForReview) && status.ResultCount == 0 {
		fmt.Fprintln(out, "  No cards were identified. Check `cardscan scan ai-response` or upload clearer photos.")
	}
}

func newScanResultsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "results <scan-id>",
		Short: "List the cards identified in a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Results(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					out := cmd.OutOrStdout()
					if len(resp.Results) == 0 {
						fmt.Fprintf(out, "Scan %s (%s) has no results\n", resp.ScanID, resp.Status)
						return nil
					}
					fmt.Fprint(out, renderTable(
						[]string{"#", "ID", "Card", "Set", "No.", "Qty", "Confidence", "Status"},
						resultRows(resp.Results),
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
						nil,
					))
					return nil
				})
			})
		},
	}
}

func resultRows(results []api.ScanResult) [][]string {
	rows := make([][]string, 0, len(results))
	for i, res := range results {
		status := res.Status
		if res.RequiresReview && res.Status == string(scan.ResultPending) {
			status += " (review)"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			res.ID,
			res.CardName,
			orDash(res.SetCode),
			orDash(res.CollectorNumber),
			strconv.Itoa(res.Quantity),
			formatConfidence(res.ConfidenceScore),
			status,
		})
	}
	return rows
}

func newScanReviewCommand(ctx *commandContext, accept bool) *cobra.Command {
	var all bool
	use, short, verb := "reject", "Reject results so they are not committed", "Rejected"
	if accept {
		use, short, verb = "accept", "Accept results for commit", "Accepted"
	}

	cmd := &cobra.Command{
		Use:   use + " <scan-id> [result-id]...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanID, ids := args[0], args[1:]
			if !all && len(ids) == 0 {
				return errors.New("name at least one result id or pass --all")
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				review := client.Reject
				if accept {
					review = client.Accept
				}
				resp, err := review(cmd.Context(), scanID, ids, all)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d result(s) in scan %s\n", verb, resp.Updated, resp.ScanID)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Apply to every pending result")
	return cmd
}

func newScanCommitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <scan-id>",
		Short: "Add accepted results to the collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.Commit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					out := cmd.OutOrStdout()
					if resp.Recovered {
						fmt.Fprintf(out, "Scan %s was already committed\n", resp.ScanID)
					}
					fmt.Fprintf(out, "Added %d card(s) to the collection (%d new, %d stacked)\n",
						resp.CardsCreated, resp.NewCards, resp.StackedCards)
					return nil
				})
			})
		},
	}
}

func newScanCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <scan-id>",
		Short: "Cancel a scan and delete its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				return emit(cmd, ctx, map[string]any{"scan_id": args[0], "cancelled": true}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Cancelled scan %s\n", args[0])
					return nil
				})
			})
		},
	}
}

func newScanAIResponseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ai-response <scan-id>",
		Short: "Show the raw model output for each image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.AIResponse(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					out := cmd.OutOrStdout()
					for _, img := range resp.Images {
						fmt.Fprintf(out, "== Image %d: %s [%s] ==\n", img.Position+1, img.OriginalFilename, orDash(img.Outcome))
						if img.Detail != "" {
							fmt.Fprintf(out, "Detail: %s\n", img.Detail)
						}
						if img.RawResponse == "" {
							fmt.Fprintln(out, "(no response recorded)")
						} else {
							fmt.Fprintln(out, img.RawResponse)
						}
						fmt.Fprintln(out)
					}
					return nil
				})
			})
		},
	}
}

func newScanImageCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "image <scan-id> <image-id>",
		Short: "Download an uploaded image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(output)
			if target == "" {
				target = args[1]
			}
			return ctx.withClient(func(client *apiclient.Client) (err error) {
				file, err := os.Create(filepath.Clean(target))
				if err != nil {
					return fmt.Errorf("create %s: %w", target, err)
				}
				defer func() {
					if closeErr := file.Close(); err == nil {
						err = closeErr
					}
					if err != nil {
						_ = os.Remove(target)
					}
				}()
				if err := client.DownloadImage(cmd.Context(), args[0], args[1], file); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (defaults to the image id)")
	return cmd
}
