package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"castdeploy/internal/destination"
)

func newDestinationCommand(ctx *commandContext) *cobra.Command {
	destCmd := &cobra.Command{
		Use:     "destination",
		Aliases: []string{"dest"},
		Short:   "Manage deploy destinations",
	}

	destCmd.AddCommand(newDestinationAddCommand(ctx))
	destCmd.AddCommand(newDestinationUpdateCommand(ctx))
	destCmd.AddCommand(newDestinationRemoveCommand(ctx))
	destCmd.AddCommand(newDestinationListCommand(ctx))
	destCmd.AddCommand(newDestinationShowCommand(ctx))
	destCmd.AddCommand(newDestinationTestCommand(ctx))
	destCmd.AddCommand(newDestinationRekeyCommand(ctx))

	return destCmd
}

func newDestinationAddCommand(ctx *commandContext) *cobra.Command {
	var podcastID, modeFlag, name, publicURL, configFile string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a destination from a TOML config file",
		Long: "Add a destination. The mode-specific settings, credentials included, are read\n" +
			"from --config-file (\"-\" reads stdin) and sealed with the vault key before storage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := destination.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			cfg, err := readDestinationConfig(cmd, mode, configFile)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				d, err := rt.destinations.Create(cmd.Context(), destination.Spec{
					PodcastID:     podcastID,
					Name:          name,
					PublicBaseURL: publicURL,
					Config:        cfg,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, d)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s destination %s (%s)\n", d.Mode, d.ID, d.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&podcastID, "podcast", "", "Podcast id the destination publishes")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "Transfer mode: "+modeList())
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the remote location)")
	cmd.Flags().StringVar(&publicURL, "public-url", "", "Public base URL that feed links are built from")
	cmd.Flags().StringVar(&configFile, "config-file", "", "TOML file with the mode settings")
	_ = cmd.MarkFlagRequired("podcast")
	_ = cmd.MarkFlagRequired("mode")
	_ = cmd.MarkFlagRequired("config-file")
	return cmd
}

func newDestinationUpdateCommand(ctx *commandContext) *cobra.Command {
	var name, publicURL, configFile string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a destination's name, public URL or settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("name") && !flags.Changed("public-url") && !flags.Changed("config-file") {
				return errors.New("nothing to update; pass --name, --public-url or --config-file")
			}
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				current, err := rt.destinations.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				var changes destination.Changes
				if flags.Changed("name") {
					changes.Name = &name
				}
				if flags.Changed("public-url") {
					changes.PublicBaseURL = &publicURL
				}
				if flags.Changed("config-file") {
					cfg, err := readDestinationConfig(cmd, current.Mode, configFile)
					if err != nil {
						return err
					}
					changes.Config = cfg
				}
				d, err := rt.destinations.Update(cmd.Context(), current.ID, changes)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, d)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated destination %s\n", d.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New display name")
	cmd.Flags().StringVar(&publicURL, "public-url", "", "New public base URL (empty clears it)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "TOML file with replacement mode settings")
	return cmd
}

func newDestinationRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a destination; its runs stay in the ledger",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				if err := rt.destinations.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed destination %s\n", args[0])
				return nil
			})
		},
	}
}

func newDestinationListCommand(ctx *commandContext) *cobra.Command {
	var podcastID string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				dests, err := rt.destinations.List(cmd.Context(), podcastID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if dests == nil {
						dests = []destination.Destination{}
					}
					return writeJSON(cmd, dests)
				}
				if len(dests) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No destinations configured")
					return nil
				}
				rows := make([][]string, 0, len(dests))
				for _, d := range dests {
					rows = append(rows, []string{d.ID, d.PodcastID, string(d.Mode), d.Name, valueOrDash(d.PublicBaseURL)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Podcast", "Mode", "Name", "Public URL"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&podcastID, "podcast", "", "Only list destinations of this podcast")
	return cmd
}

type destinationDetail struct {
	destination.Destination
	Location    string `json:"location,omitempty"`
	ConfigError string `json:"config_error,omitempty"`
}

func newDestinationShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a destination with its redacted remote location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				d, err := rt.destinations.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				detail := destinationDetail{Destination: d}
				if cfg, err := rt.destinations.Decrypt(d); err != nil {
					detail.ConfigError = err.Error()
				} else {
					detail.Location = cfg.Location()
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, detail)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:         %s\n", d.ID)
				fmt.Fprintf(out, "Podcast:    %s\n", d.PodcastID)
				fmt.Fprintf(out, "Mode:       %s\n", d.Mode)
				fmt.Fprintf(out, "Name:       %s\n", d.Name)
				fmt.Fprintf(out, "Public URL: %s\n", valueOrDash(d.PublicBaseURL))
				if detail.ConfigError != "" {
					fmt.Fprintf(out, "Location:   unreadable (%s)\n", detail.ConfigError)
				} else {
					fmt.Fprintf(out, "Location:   %s\n", detail.Location)
				}
				fmt.Fprintf(out, "Created:    %s\n", formatTime(d.CreatedAt))
				fmt.Fprintf(out, "Updated:    %s\n", formatTime(d.UpdatedAt))
				return nil
			})
		},
	}
}

func newDestinationTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Connect to a destination and create its root directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				result, err := rt.deploy.TestDestination(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, result); err != nil {
						return err
					}
				} else if result.OK {
					fmt.Fprintf(cmd.OutOrStdout(), "Destination %s is reachable\n", args[0])
				}
				if !result.OK {
					return fmt.Errorf("destination %s test failed: %s", args[0], result.Error)
				}
				return nil
			})
		},
	}
}

func newDestinationRekeyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rekey",
		Short: "Re-seal destination configs under the primary vault key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *runtime) error {
				report, err := rt.destinations.Rekey(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Checked %d, rekeyed %d under key %s\n", report.Checked, report.Rekeyed, rt.vault.KeyID())
					for _, failure := range report.Failed {
						fmt.Fprintf(out, "- %s\n", failure)
					}
				}
				if len(report.Failed) > 0 {
					return fmt.Errorf("%d destinations could not be rekeyed", len(report.Failed))
				}
				return nil
			})
		},
	}
}

func readDestinationConfig(cmd *cobra.Command, mode destination.Mode, path string) (destination.Config, error) {
	var (
		data []byte
		err  error
	)
	switch path = strings.TrimSpace(path); path {
	case "":
		return nil, errors.New("--config-file is required")
	case "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read destination config: %w", err)
	}
	return destination.ParseTOML(mode, data)
}

func modeList() string {
	modes := destination.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
