package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"castdeploy/internal/ledger"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the deploy run ledger",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsReconcileCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var filter ledger.Filter
	var statusFlag string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List deploy runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if statusFlag != "" {
				status, err := ledger.ParseStatus(statusFlag)
				if err != nil {
					return err
				}
				filter.Status = status
			}
			return ctx.withStore(cmd, func(rt *storeRuntime) error {
				runs, err := rt.runs.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if runs == nil {
						runs = []ledger.Run{}
					}
					return writeJSON(cmd, runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No deploy runs recorded")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID,
						r.PodcastID,
						r.DestinationID,
						statusLabel(string(r.Status), colorize),
						formatTime(r.StartedAt),
						formatDuration(r.Duration()),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Run", "Podcast", "Destination", "Status", "Started", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.DestinationID, "destination", "", "Only runs of this destination")
	cmd.Flags().StringVar(&filter.PodcastID, "podcast", "", "Only runs of this podcast")
	cmd.Flags().StringVar(&statusFlag, "status", "", "Only runs with this status (running, success, failed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum runs to show (0 for all)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(rt *storeRuntime) error {
				run, err := rt.runs.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, run)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:         %s\n", run.ID)
				fmt.Fprintf(out, "Podcast:     %s\n", run.PodcastID)
				fmt.Fprintf(out, "Destination: %s\n", run.DestinationID)
				fmt.Fprintf(out, "Status:      %s\n", statusLabel(string(run.Status), shouldColorize(out)))
				fmt.Fprintf(out, "Started:     %s\n", formatTime(run.StartedAt))
				fmt.Fprintf(out, "Finished:    %s\n", formatTimePtr(run.FinishedAt))
				fmt.Fprintf(out, "Duration:    %s\n", formatDuration(run.Duration()))
				if run.Log != "" {
					fmt.Fprintf(out, "\n%s\n", run.Log)
				}
				return nil
			})
		},
	}
}

func newRunsReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark runs abandoned by a crashed process as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(rt *storeRuntime) error {
				n, err := reconcileRuns(cmd, rt)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reconciled %d stale runs\n", n)
				return nil
			})
		},
	}
}

// reconcileStale closes abandoned runs before a deploy starts new ones.
func reconcileStale(cmd *cobra.Command, rt *storeRuntime) error {
	_, err := reconcileRuns(cmd, rt)
	return err
}

func reconcileRuns(cmd *cobra.Command, rt *storeRuntime) (int64, error) {
	cutoff := time.Now().Add(-rt.cfg.StaleRunAfter())
	return rt.runs.ReconcileStale(cmd.Context(), cutoff)
}
