package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// VaultKeyEnv names the environment variable that overrides vault.key_file.
const VaultKeyEnv = "CASTDEPLOY_VAULT_KEY"

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	CacheDir   string `toml:"cache_dir"`
	CatalogDir string `toml:"catalog_dir"`
	LogDir     string `toml:"log_dir"`
}

// Vault contains credential vault key material locations.
type Vault struct {
	KeyFile          string   `toml:"key_file"`
	PreviousKeyFiles []string `toml:"previous_key_files"`

	// Key holds base64 key material taken from CASTDEPLOY_VAULT_KEY. It is
	// never read from or written to the TOML file.
	Key string `toml:"-"`
}

// Deploy contains transfer timeouts and run bookkeeping intervals, in seconds.
type Deploy struct {
	ConnectTimeout     int `toml:"connect_timeout"`
	IOTimeout          int `toml:"io_timeout"`
	DestinationTimeout int `toml:"destination_timeout"`
	LockTimeout        int `toml:"lock_timeout"`
	StaleRunAfter      int `toml:"stale_run_after"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for castdeploy.
//
// Configuration sections by subsystem:
//   - Paths: database/lock directory, feed cache, podcast catalog, logs
//   - Vault: key file holding the destination-config encryption key
//   - Deploy: connection and per-destination timeouts, lock wait, stale run cutoff
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Vault   Vault   `toml:"vault"`
	Deploy  Deploy  `toml:"deploy"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/castdeploy/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("castdeploy.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the engine writes to. The catalog
// directory is created on a best-effort basis since it is usually managed by
// the authoring application.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.LockDir(), c.Paths.CacheDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.CatalogDir) != "" {
		_ = os.MkdirAll(c.Paths.CatalogDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "castdeploy.db")
}

// LockDir returns the directory holding per-podcast deploy locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.DataDir, "locks")
}

// FeedCacheDir returns the directory holding cached per-destination feeds.
func (c *Config) FeedCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "feeds")
}

// ConnectTimeout returns the dial timeout for remote connections.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Deploy.ConnectTimeout) * time.Second
}

// IOTimeout returns the per-operation read/write deadline for remote connections.
func (c *Config) IOTimeout() time.Duration {
	return time.Duration(c.Deploy.IOTimeout) * time.Second
}

// DestinationTimeout bounds a single destination deploy.
func (c *Config) DestinationTimeout() time.Duration {
	return time.Duration(c.Deploy.DestinationTimeout) * time.Second
}

// LockTimeout bounds how long a deploy waits for the podcast lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Deploy.LockTimeout) * time.Second
}

// StaleRunAfter is the age after which a running deploy run is considered abandoned.
func (c *Config) StaleRunAfter() time.Duration {
	return time.Duration(c.Deploy.StaleRunAfter) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
