package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"castdeploy/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Run `castdeploy key generate` (or export "+config.VaultKeyEnv+") before adding destinations.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

type configSummary struct {
	Path       string `json:"path"`
	Exists     bool   `json:"exists"`
	DataDir    string `json:"dataDir"`
	CatalogDir string `json:"catalogDir"`
	CacheDir   string `json:"cacheDir"`
	LogDir     string `json:"logDir"`
	KeySource  string `json:"keySource"`
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration and show resolved paths",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			summary := configSummary{
				Path:       path,
				Exists:     exists,
				DataDir:    cfg.Paths.DataDir,
				CatalogDir: cfg.Paths.CatalogDir,
				CacheDir:   cfg.Paths.CacheDir,
				LogDir:     cfg.Paths.LogDir,
				KeySource:  cfg.Vault.KeyFile,
			}
			if strings.TrimSpace(cfg.Vault.Key) != "" {
				summary.KeySource = "$" + config.VaultKeyEnv
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", summary.Path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Data:        %s\n", summary.DataDir)
			fmt.Fprintf(out, "Catalog:     %s\n", summary.CatalogDir)
			fmt.Fprintf(out, "Cache:       %s\n", summary.CacheDir)
			fmt.Fprintf(out, "Logs:        %s\n", summary.LogDir)
			fmt.Fprintf(out, "Vault key:   %s\n", summary.KeySource)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
