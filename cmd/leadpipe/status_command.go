package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"leadpipe/internal/api"
	"leadpipe/internal/queue"
	"leadpipe/internal/queueaccess"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and record counts per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(session queueaccess.Session) error {
				out := cmd.OutOrStdout()
				stages, err := session.Access.Stages(cmd.Context())
				if err != nil {
					return err
				}
				stats, err := session.Access.Stats(cmd.Context())
				if err != nil {
					return err
				}

				var daemonStatus *api.DaemonStatus
				if client, ok := session.Access.(*api.Client); ok && session.Remote {
					status, err := client.Status(cmd.Context())
					if err != nil {
						return err
					}
					daemonStatus = &status
				}

				if asJSON {
					return writeJSON(cmd, map[string]any{
						"daemon": daemonStatus,
						"counts": stats,
						"stages": stages,
					})
				}

				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
				printDaemonLines(out, daemonStatus, colorize)
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderSectionHeader("Pipeline", colorize))
				if total(stats) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, stageTable(stages))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of tables")
	return cmd
}

func printDaemonLines(out io.Writer, status *api.DaemonStatus, colorize bool) {
	if status == nil {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running (reading database directly)", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Ledger", statusInfo, status.LedgerKind, colorize))
	fmt.Fprintln(out, renderStatusLine("Events", statusInfo, status.EventBackend, colorize))
	for _, h := range status.Workflow.StageHealth {
		kind, detail := statusOK, "ready"
		if !h.Ready {
			kind, detail = statusError, h.Detail
		}
		fmt.Fprintln(out, renderStatusLine("Stage "+h.Name, kind, detail, colorize))
	}
	if status.Workflow.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.Workflow.LastError, colorize))
	}
}

// stageTable renders one row per stage in pipeline order with a column per
// status family.
func stageTable(stages []api.StageCount) string {
	type row struct {
		waiting, processing, retry, terminal int
	}
	byStage := make(map[string]*row)
	for _, sc := range stages {
		r := byStage[sc.Stage]
		if r == nil {
			r = &row{}
			byStage[sc.Stage] = r
		}
		status := queue.Status(sc.Status)
		switch {
		case status == queue.StatusProcessing:
			r.processing += sc.Count
		case status == queue.StatusRetryScheduled:
			r.retry += sc.Count
		case status.IsTerminal():
			r.terminal += sc.Count
		default:
			r.waiting += sc.Count
		}
	}

	names := make([]string, 0, len(byStage))
	for name := range byStage {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return queue.Stage(names[i]).Index() < queue.Stage(names[j]).Index()
	})

	rows := make([][]string, 0, len(names))
	var sum row
	for _, name := range names {
		r := byStage[name]
		sum.waiting += r.waiting
		sum.processing += r.processing
		sum.retry += r.retry
		sum.terminal += r.terminal
		rows = append(rows, []string{name, fmt.Sprint(r.waiting), fmt.Sprint(r.processing), fmt.Sprint(r.retry), fmt.Sprint(r.terminal)})
	}
	return tableSpec{
		headers: []string{"Stage", "Waiting", "Processing", "Retry", "Terminal"},
		aligns:  []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
		rows:    rows,
		footer:  []string{"Total", fmt.Sprint(sum.waiting), fmt.Sprint(sum.processing), fmt.Sprint(sum.retry), fmt.Sprint(sum.terminal)},
	}.render()
}

func total(stats map[string]int) int {
	n := 0
	for _, v := range stats {
		n += v
	}
	return n
}
