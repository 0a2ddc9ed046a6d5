package testsupport

import (
	"context"
	"database/sql"
	"testing"

	"castdeploy/internal/config"
	"castdeploy/internal/store"
	"castdeploy/internal/vault"
)

// MustOpenDB opens the configured database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *sql.DB {
	t.Helper()

	db, err := store.Open(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustVault builds the vault described by cfg.
func MustVault(t testing.TB, cfg *config.Config) *vault.Vault {
	t.Helper()

	v, err := vault.FromConfig(cfg)
	if err != nil {
		t.Fatalf("vault.FromConfig: %v", err)
	}
	return v
}
