package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"castdeploy/internal/catalog"
	"castdeploy/internal/config"
	"castdeploy/internal/deploy"
	"castdeploy/internal/destination"
	"castdeploy/internal/ledger"
	"castdeploy/internal/logging"
	"castdeploy/internal/remote"
	"castdeploy/internal/store"
	"castdeploy/internal/vault"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	jsonFlag     *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		jsonFlag:     jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil {
			if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
				cfg.Logging.Level = level
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// storeRuntime is what read-only ledger commands need. It does not touch the
// vault, so runs can be inspected without key material.
type storeRuntime struct {
	cfg    *config.Config
	db     *sql.DB
	logger *slog.Logger
	runs   *ledger.Ledger
}

// runtime wires every collaborator a destination or deploy command uses.
type runtime struct {
	storeRuntime
	vault        *vault.Vault
	destinations *destination.Manager
	remote       *remote.Registry
	deploy       *deploy.Service
}

func (c *commandContext) withStore(cmd *cobra.Command, fn func(*storeRuntime) error) error {
	rt, err := c.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.db.Close()
	return fn(rt)
}

func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(*runtime) error) error {
	base, err := c.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer base.db.Close()

	v, err := vault.FromConfig(base.cfg)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	rt := &runtime{storeRuntime: *base, vault: v}
	rt.destinations = destination.NewManager(base.db, v, base.logger)
	rt.remote = remote.DefaultRegistry(remote.Options{
		ConnectTimeout: base.cfg.ConnectTimeout(),
		IOTimeout:      base.cfg.IOTimeout(),
	}, base.logger)
	rt.deploy, err = deploy.NewService(deploy.Dependencies{
		Destinations: rt.destinations,
		Runs:         base.runs,
		Remote:       rt.remote,
		Catalog:      catalog.New(base.cfg.Paths.CatalogDir),
		Feeds:        deploy.NewFeedCache(base.cfg.FeedCacheDir()),
		Locks:        deploy.NewLocker(base.cfg.LockDir(), base.cfg.LockTimeout()),
		Logger:       base.logger,
	}, deploy.WithDestinationTimeout(base.cfg.DestinationTimeout()))
	if err != nil {
		return err
	}
	return fn(rt)
}

func (c *commandContext) openStore(ctx context.Context) (*storeRuntime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := store.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	return &storeRuntime{
		cfg:    cfg,
		db:     db,
		logger: logger,
		runs:   ledger.New(db, logger),
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
