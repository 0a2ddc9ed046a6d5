package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"castdeploy/internal/deploy"
)

func newDeployCommand(ctx *commandContext) *cobra.Command {
	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Publish podcast artifacts",
	}

	deployCmd.AddCommand(newDeployDestinationCommand(ctx))
	deployCmd.AddCommand(newDeployPodcastCommand(ctx))

	return deployCmd
}

func newDeployDestinationCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "destination <id>",
		Short: "Deploy one destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				if err := reconcileStale(cmd, &rt.storeRuntime); err != nil {
					return err
				}
				result, err := rt.deploy.DeployOne(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := renderRunResults(cmd, ctx, []deploy.RunResult{result}); err != nil {
					return err
				}
				if !result.Succeeded() {
					return fmt.Errorf("deploy to %s failed (run %s)", result.DestinationName, result.Run.ID)
				}
				return nil
			})
		},
	}
}

func newDeployPodcastCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "podcast <podcastID>",
		Short: "Deploy every destination of a podcast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				if err := reconcileStale(cmd, &rt.storeRuntime); err != nil {
					return err
				}
				results, err := rt.deploy.DeployAll(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(results) == 0 && !ctx.jsonOutput() {
					fmt.Fprintf(cmd.OutOrStdout(), "Podcast %s has no destinations\n", args[0])
					return nil
				}
				if err := renderRunResults(cmd, ctx, results); err != nil {
					return err
				}
				failed := 0
				for _, r := range results {
					if !r.Succeeded() {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d destinations failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func renderRunResults(cmd *cobra.Command, ctx *commandContext, results []deploy.RunResult) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, results)
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.DestinationName,
			string(r.Mode),
			statusLabel(string(r.Run.Status), colorize),
			strconv.Itoa(r.Result.Uploaded),
			strconv.Itoa(r.Result.Skipped),
			strconv.Itoa(len(r.Result.Errors)),
			r.Run.ID,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Destination", "Mode", "Status", "Uploaded", "Skipped", "Errors", "Run"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	for _, r := range results {
		if !r.Succeeded() {
			writeRunErrors(out, r)
		}
	}
	return nil
}

func writeRunErrors(out io.Writer, r deploy.RunResult) {
	lines := r.Result.Errors
	if len(lines) == 0 && r.Run.Log != "" {
		lines = []string{r.Run.Log}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", r.DestinationName)
	for _, line := range lines {
		fmt.Fprintf(out, "  - %s\n", strings.TrimSpace(line))
	}
}
