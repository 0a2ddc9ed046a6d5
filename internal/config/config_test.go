package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"castdeploy/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv(config.VaultKeyEnv, "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "castdeploy")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "castdeploy.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Vault.KeyFile != filepath.Join(tempHome, ".config", "castdeploy", "vault.key") {
		t.Fatalf("unexpected key file: %q", cfg.Vault.KeyFile)
	}
	if cfg.ConnectTimeout() != 30*time.Second {
		t.Fatalf("unexpected connect timeout: %s", cfg.ConnectTimeout())
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.LockDir(), cfg.Paths.CacheDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(config.VaultKeyEnv, "")
	configPath := filepath.Join(tempDir, "castdeploy.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Deploy struct {
			IOTimeout     int `toml:"io_timeout"`
			StaleRunAfter int `toml:"stale_run_after"`
		} `toml:"deploy"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Deploy.IOTimeout = 15
	custom.Deploy.StaleRunAfter = 3600
	custom.Logging.Format = " JSON "

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.IOTimeout() != 15*time.Second {
		t.Fatalf("unexpected io timeout: %s", cfg.IOTimeout())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized json format, got %q", cfg.Logging.Format)
	}
	if cfg.Deploy.ConnectTimeout != config.Default().Deploy.ConnectTimeout {
		t.Fatalf("expected default connect timeout, got %d", cfg.Deploy.ConnectTimeout)
	}
}

func TestLoadReadsVaultKeyFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.VaultKeyEnv, "  c2VjcmV0  ")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Vault.Key != "c2VjcmV0" {
		t.Fatalf("expected trimmed env key, got %q", cfg.Vault.Key)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "zero io timeout",
			mutate: func(c *config.Config) { c.Deploy.IOTimeout = 0 },
			want:   "deploy.io_timeout must be positive",
		},
		{
			name: "stale cutoff below destination timeout",
			mutate: func(c *config.Config) {
				c.Deploy.DestinationTimeout = 600
				c.Deploy.StaleRunAfter = 300
			},
			want: "deploy.stale_run_after must be greater",
		},
		{
			name:   "unknown log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name: "no key source",
			mutate: func(c *config.Config) {
				c.Vault.KeyFile = ""
				c.Vault.Key = ""
			},
			want: "vault.key_file must be set",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.VaultKeyEnv, "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Deploy.StaleRunAfter != 7200 {
		t.Fatalf("unexpected stale_run_after: %d", cfg.Deploy.StaleRunAfter)
	}
}
