package config

const (
	defaultDataDir            = "~/.local/share/castdeploy"
	defaultCacheDir           = "~/.cache/castdeploy"
	defaultCatalogDir         = "~/podcasts"
	defaultLogDir             = "~/.local/share/castdeploy/logs"
	defaultVaultKeyFile       = "~/.config/castdeploy/vault.key"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultConnectTimeout     = 30
	defaultIOTimeout          = 120
	defaultDestinationTimeout = 1800
	defaultLockTimeout        = 60
	defaultStaleRunAfter      = 7200
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			CacheDir:   defaultCacheDir,
			CatalogDir: defaultCatalogDir,
			LogDir:     defaultLogDir,
		},
		Vault: Vault{
			KeyFile: defaultVaultKeyFile,
		},
		Deploy: Deploy{
			ConnectTimeout:     defaultConnectTimeout,
			IOTimeout:          defaultIOTimeout,
			DestinationTimeout: defaultDestinationTimeout,
			LockTimeout:        defaultLockTimeout,
			StaleRunAfter:      defaultStaleRunAfter,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
