package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"cardscan/internal/api"
	"cardscan/internal/apiclient"
	"cardscan/internal/preflight"
	"cardscan/internal/scan"
)

type statusReport struct {
	Daemon    *api.DaemonStatus  `json:"daemon,omitempty"`
	DaemonErr string             `json:"daemon_error,omitempty"`
	Checks    []preflight.Result `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and scan status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report statusReport
			client, err := ctx.client()
			if err == nil {
				var status api.DaemonStatus
				if status, err = client.DaemonStatus(cmd.Context()); err == nil {
					report.Daemon = &status
				}
			}
			if err != nil {
				if !apiclient.IsUnavailable(err) {
					return err
				}
				report.DaemonErr = err.Error()
			}
			if !skipChecks {
				report.Checks = preflight.RunAll(cmd.Context(), ctx.configValue())
			}

			return emit(cmd, ctx, report, func() error {
				renderStatusReport(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip local dependency checks")
	return cmd
}

func renderStatusReport(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	printSection(out, "Daemon", colorize)
	if report.Daemon == nil {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "not reachable", colorize))
	} else {
		d := report.Daemon
		fmt.Fprintln(out, renderStatusLine("Daemon", passFail(d.Running), fmt.Sprintf("pid %d", d.PID), colorize))
		fmt.Fprintln(out, renderStatusLine("Workflow", passFail(d.Workflow.Running),
			fmt.Sprintf("%d active run(s)", d.Workflow.ActiveRuns), colorize))
		if d.Workflow.LastError != "" {
			fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, d.Workflow.LastError, colorize))
		}
		fmt.Fprintln(out, renderStatusLine("Scan database", statusInfo, d.ScanDBPath, colorize))
		for _, health := range d.Workflow.StageHealth {
			detail := health.Detail
			if health.Ready && detail == "" {
				detail = "Ready"
			}
			fmt.Fprintln(out, renderStatusLine(health.Name, passFail(health.Ready), detail, colorize))
		}
	}

	if len(report.Checks) > 0 {
		fmt.Fprintln(out)
		printSection(out, "Local Checks", colorize)
		for _, check := range report.Checks {
			fmt.Fprintln(out, renderStatusLine(check.Name, passFail(check.Passed), check.Detail, colorize))
		}
	}

	if report.Daemon == nil {
		return
	}
	fmt.Fprintln(out)
	printSection(out, "Scans", colorize)
	rows := scanStatsRows(report.Daemon.Workflow.ScanStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No scans")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, nil))
}

// scanStatsRows orders counts by lifecycle position and drops zero rows.
func scanStatsRows(stats map[string]int) [][]string {
	order := make(map[string]int)
	for i, status := range scan.AllStatuses() {
		order[string(status)] = i
	}
	keys := make([]string, 0, len(stats))
	for key, count := range stats {
		if count > 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := order[keys[i]]
		oj, jok := order[keys[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(stats[key])})
	}
	return rows
}
