package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"castdeploy/internal/config"
	"castdeploy/internal/vault"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and a freshly generated vault key file. It applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.CatalogDir = filepath.Join(base, "catalog")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Vault.KeyFile = filepath.Join(base, "keys", "vault.key")
	cfgVal.Vault.Key = ""
	cfgVal.Deploy.ConnectTimeout = 5
	cfgVal.Deploy.IOTimeout = 5
	cfgVal.Deploy.LockTimeout = 2

	if _, err := vault.GenerateKeyFile(cfgVal.Vault.KeyFile, false); err != nil {
		t.Fatalf("generate vault key: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithPreviousKey generates an extra key file and registers it as a
// previous vault key. The raw key is written to *dst when dst is non-nil.
func WithPreviousKey(dst *[]byte) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "keys", "previous.key")
		key, err := vault.GenerateKeyFile(path, false)
		if err != nil {
			b.t.Fatalf("generate previous key: %v", err)
		}
		b.cfg.Vault.PreviousKeyFiles = append(b.cfg.Vault.PreviousKeyFiles, path)
		if dst != nil {
			*dst = key
		}
	}
}

// WithTimeouts overrides the deploy timeouts, in seconds.
func WithTimeouts(connect, io, destination int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Deploy.ConnectTimeout = connect
		b.cfg.Deploy.IOTimeout = io
		b.cfg.Deploy.DestinationTimeout = destination
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WriteConfigFile renders cfg's paths into a TOML file under the base dir and
// returns its path, for CLI tests that need --config.
func WriteConfigFile(t testing.TB, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(BaseDir(cfg), "castdeploy.toml")
	content := "[paths]\n" +
		"data_dir = " + quote(cfg.Paths.DataDir) + "\n" +
		"cache_dir = " + quote(cfg.Paths.CacheDir) + "\n" +
		"catalog_dir = " + quote(cfg.Paths.CatalogDir) + "\n" +
		"log_dir = " + quote(cfg.Paths.LogDir) + "\n\n" +
		"[vault]\n" +
		"key_file = " + quote(cfg.Vault.KeyFile) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func quote(value string) string {
	return "'" + value + "'"
}
