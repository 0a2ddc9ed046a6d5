package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateVault(); err != nil {
		return err
	}
	if err := c.validateDeploy(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateVault() error {
	if c.Vault.Key == "" && c.Vault.KeyFile == "" {
		return fmt.Errorf("vault.key_file must be set (or export %s)", VaultKeyEnv)
	}
	return nil
}

func (c *Config) validateDeploy() error {
	if err := ensurePositiveMap(map[string]int{
		"deploy.connect_timeout":     c.Deploy.ConnectTimeout,
		"deploy.io_timeout":          c.Deploy.IOTimeout,
		"deploy.destination_timeout": c.Deploy.DestinationTimeout,
		"deploy.lock_timeout":        c.Deploy.LockTimeout,
		"deploy.stale_run_after":     c.Deploy.StaleRunAfter,
	}); err != nil {
		return err
	}
	if c.Deploy.StaleRunAfter <= c.Deploy.DestinationTimeout {
		return errors.New("deploy.stale_run_after must be greater than deploy.destination_timeout")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive (seconds)", key)
		}
	}
	return nil
}
