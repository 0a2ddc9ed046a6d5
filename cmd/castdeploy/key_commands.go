package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"castdeploy/internal/config"
	"castdeploy/internal/vault"
)

func newKeyCommand(ctx *commandContext) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the vault key that seals destination configs",
	}

	keyCmd.AddCommand(newKeyGenerateCommand(ctx))
	keyCmd.AddCommand(newKeyShowCommand(ctx))

	return keyCmd
}

func newKeyGenerateCommand(ctx *commandContext) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "generate",
		Short:       "Write a new random vault key file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				target = cfg.Vault.KeyFile
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve key path: %w", err)
				}
				target = expanded
			}

			key, err := vault.GenerateKeyFile(target, overwrite)
			if err != nil {
				return err
			}
			v, err := vault.New(key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote vault key %s to %s\n", v.KeyID(), target)
			if overwrite {
				fmt.Fprintln(out, "Keep the previous key in vault.previous_key_files and run `castdeploy destination rekey` to move existing destinations over.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Key file path (defaults to vault.key_file)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing key file")
	return cmd
}

type keyInfo struct {
	KeyID    string   `json:"keyId"`
	Source   string   `json:"source"`
	Previous []string `json:"previousKeyFiles"`
}

func newKeyShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active key id without revealing key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			v, err := vault.FromConfig(cfg)
			if err != nil {
				return fmt.Errorf("open vault: %w", err)
			}

			info := keyInfo{KeyID: v.KeyID(), Source: cfg.Vault.KeyFile, Previous: cfg.Vault.PreviousKeyFiles}
			if strings.TrimSpace(cfg.Vault.Key) != "" {
				info.Source = "$" + config.VaultKeyEnv
			}
			if info.Previous == nil {
				info.Previous = []string{}
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key id:   %s\n", info.KeyID)
			fmt.Fprintf(out, "Source:   %s\n", info.Source)
			fmt.Fprintf(out, "Previous: %d\n", len(info.Previous))
			for _, path := range info.Previous {
				fmt.Fprintf(out, "  - %s\n", path)
			}
			return nil
		},
	}
}
