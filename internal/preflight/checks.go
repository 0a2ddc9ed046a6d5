package preflight

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"castdeploy/internal/config"
	"castdeploy/internal/store"
	"castdeploy/internal/vault"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckReadableDirectory verifies that the directory exists and can be listed.
func CheckReadableDirectory(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckVaultKey verifies the vault key material loads and reports its id.
// Key bytes are never included in the detail.
func CheckVaultKey(cfg *config.Config) Result {
	const name = "Vault key"

	source := cfg.Vault.KeyFile
	if strings.TrimSpace(cfg.Vault.Key) != "" {
		source = "$" + config.VaultKeyEnv
	}
	v, err := vault.FromConfig(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", source, err)}
	}
	detail := fmt.Sprintf("%s (key id %s", source, v.KeyID())
	if n := len(cfg.Vault.PreviousKeyFiles); n > 0 {
		detail += fmt.Sprintf(", %d previous", n)
	}
	return Result{Name: name, Passed: true, Detail: detail + ")"}
}

// CheckDatabase reports schema, integrity and run counts for the ledger
// database. Runs stuck in running are called out because they need
// reconciling.
func CheckDatabase(ctx context.Context, db *sql.DB, path string) Result {
	const name = "Database"

	health, err := store.CheckHealth(ctx, db, path)
	switch {
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	case !health.Exists:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
	case !health.IntegrityOK:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: integrity check failed)", path)}
	}

	detail := fmt.Sprintf("%s (%d migrations, %d destinations, %d runs", path, len(health.Migrations), health.Destinations, health.Runs)
	if health.RunningRuns > 0 {
		detail += fmt.Sprintf(", %d running; run `castdeploy runs reconcile` if no deploy is active", health.RunningRuns)
	}
	return Result{Name: name, Passed: true, Detail: detail + ")"}
}
