package preflight

import (
	"context"
	"database/sql"

	"castdeploy/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the local readiness checks for cfg. db may be nil when the
// database could not be opened; the database check then reports that.
func RunAll(ctx context.Context, cfg *config.Config, db *sql.DB) []Result {
	if cfg == nil {
		return nil
	}

	return []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Lock directory", cfg.LockDir()),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckReadableDirectory("Catalog directory", cfg.Paths.CatalogDir),
		CheckVaultKey(cfg),
		CheckDatabase(ctx, db, cfg.DatabasePath()),
	}
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
