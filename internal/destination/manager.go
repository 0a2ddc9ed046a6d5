package destination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"castdeploy/internal/logging"
	"castdeploy/internal/vault"
)

// Sealer encrypts and decrypts config blobs. *vault.Vault implements it.
type Sealer interface {
	Encrypt(plaintext []byte, context string) ([]byte, error)
	Decrypt(blob []byte, context string) ([]byte, error)
	NeedsRekey(blob []byte) bool
}

// Spec describes a destination to create.
type Spec struct {
	PodcastID     string
	Name          string
	PublicBaseURL string
	Config        Config
}

// Changes describes an update. Nil fields are left unchanged. A non-nil
// Config must have the destination's existing mode.
type Changes struct {
	Name          *string
	PublicBaseURL *string
	Config        Config
}

// RekeyReport summarizes a rekey pass.
type RekeyReport struct {
	Checked int      `json:"checked"`
	Rekeyed int      `json:"rekeyed"`
	Failed  []string `json:"failed,omitempty"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns destination lifecycle: validation, sealing and persistence.
type Manager struct {
	repo   *Repo
	sealer Sealer
	logger *slog.Logger
	now    func() time.Time
}

// NewManager constructs a Manager over db.
func NewManager(db *sql.DB, sealer Sealer, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:   &Repo{DB: db},
		sealer: sealer,
		logger: logging.NewComponentLogger(logger, "destination"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates and seals spec, then stores it under a new id.
func (m *Manager) Create(ctx context.Context, spec Spec) (Destination, error) {
	podcastID := strings.TrimSpace(spec.PodcastID)
	if podcastID == "" {
		return Destination{}, &ConfigError{Field: "podcast_id", Message: "is required"}
	}
	if err := Validate(spec.Config); err != nil {
		return Destination{}, err
	}
	publicURL, err := normalizePublicURL(spec.PublicBaseURL)
	if err != nil {
		return Destination{}, err
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = spec.Config.Location()
	}

	sealed, err := m.seal(spec.Config)
	if err != nil {
		return Destination{}, err
	}

	now := m.now().UTC()
	d := Destination{
		ID:            uuid.NewString(),
		PodcastID:     podcastID,
		Mode:          spec.Config.Mode(),
		Name:          name,
		PublicBaseURL: publicURL,
		SealedConfig:  sealed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.repo.Insert(ctx, d); err != nil {
		return Destination{}, err
	}
	m.logger.Info("destination created",
		slog.String(logging.FieldDestinationID, d.ID),
		slog.String(logging.FieldPodcastID, d.PodcastID),
		slog.String(logging.FieldMode, string(d.Mode)),
	)
	return d, nil
}

// Update applies changes to an existing destination. Mode is immutable.
func (m *Manager) Update(ctx context.Context, id string, changes Changes) (Destination, error) {
	d, err := m.repo.Get(ctx, id)
	if err != nil {
		return Destination{}, err
	}

	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" {
			return Destination{}, &ConfigError{Field: "name", Message: "must not be empty"}
		}
		d.Name = name
	}
	if changes.PublicBaseURL != nil {
		publicURL, err := normalizePublicURL(*changes.PublicBaseURL)
		if err != nil {
			return Destination{}, err
		}
		d.PublicBaseURL = publicURL
	}
	if changes.Config != nil {
		if changes.Config.Mode() != d.Mode {
			return Destination{}, &ConfigError{
				Field:   "mode",
				Message: fmt.Sprintf("cannot change from %s to %s; remove the destination and add a new one", d.Mode, changes.Config.Mode()),
			}
		}
		if err := Validate(changes.Config); err != nil {
			return Destination{}, err
		}
		sealed, err := m.seal(changes.Config)
		if err != nil {
			return Destination{}, err
		}
		d.SealedConfig = sealed
	}

	d.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, d); err != nil {
		return Destination{}, err
	}
	m.logger.Info("destination updated",
		slog.String(logging.FieldDestinationID, d.ID),
		slog.Bool("config_changed", changes.Config != nil),
	)
	return d, nil
}

// Delete removes a destination. Its deploy runs stay in the ledger.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("destination removed", slog.String(logging.FieldDestinationID, id))
	return nil
}

// Get loads a destination by id.
func (m *Manager) Get(ctx context.Context, id string) (Destination, error) {
	return m.repo.Get(ctx, id)
}

// List returns destinations for podcastID, or all when empty, in creation order.
func (m *Manager) List(ctx context.Context, podcastID string) ([]Destination, error) {
	return m.repo.List(ctx, strings.TrimSpace(podcastID))
}

// Decrypt opens the sealed config of d. Vault failures wrap
// vault.ErrDecryptionFailed; malformed or invalid payloads are *ConfigError.
func (m *Manager) Decrypt(d Destination) (Config, error) {
	plaintext, err := m.sealer.Decrypt(d.SealedConfig, vault.ContextDestinationConfig)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(plaintext)
	if err != nil {
		return nil, err
	}
	if cfg.Mode() != d.Mode {
		return nil, &ConfigError{
			Field:   "mode",
			Message: fmt.Sprintf("sealed config is %s but destination is %s", cfg.Mode(), d.Mode),
		}
	}
	return cfg, nil
}

// Rekey re-seals every blob not sealed under the primary key.
func (m *Manager) Rekey(ctx context.Context) (RekeyReport, error) {
	var report RekeyReport
	all, err := m.repo.List(ctx, "")
	if err != nil {
		return report, err
	}
	for _, d := range all {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if !m.sealer.NeedsRekey(d.SealedConfig) {
			continue
		}
		plaintext, err := m.sealer.Decrypt(d.SealedConfig, vault.ContextDestinationConfig)
		if err != nil {
			report.Failed = append(report.Failed, fmt.Sprintf("%s: %v", d.ID, err))
			m.logger.Warn("rekey skipped destination",
				slog.String(logging.FieldDestinationID, d.ID),
				logging.Error(err),
			)
			continue
		}
		sealed, err := m.sealer.Encrypt(plaintext, vault.ContextDestinationConfig)
		if err != nil {
			return report, fmt.Errorf("seal destination %s: %w", d.ID, err)
		}
		updated, err := m.repo.UpdateSealedConfig(ctx, d.ID, d.SealedConfig, sealed, m.now().UTC())
		if err != nil {
			return report, err
		}
		if !updated {
			report.Failed = append(report.Failed, fmt.Sprintf("%s: changed during rekey", d.ID))
			continue
		}
		report.Rekeyed++
	}
	m.logger.Info("rekey complete",
		slog.Int("checked", report.Checked),
		slog.Int("rekeyed", report.Rekeyed),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (m *Manager) seal(cfg Config) ([]byte, error) {
	payload, err := Encode(cfg)
	if err != nil {
		return nil, err
	}
	sealed, err := m.sealer.Encrypt(payload, vault.ContextDestinationConfig)
	if err != nil {
		return nil, fmt.Errorf("seal destination config: %w", err)
	}
	return sealed, nil
}

func normalizePublicURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if err := validate.Var(trimmed, "url"); err != nil {
		return "", &ConfigError{Field: "public_base_url", Message: "must be a valid URL"}
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &ConfigError{Field: "public_base_url", Message: "must be an absolute http(s) URL"}
	}
	return strings.TrimRight(trimmed, "/"), nil
}

// IsDecryptFailure reports whether err came from the vault rather than from
// config validation.
func IsDecryptFailure(err error) bool {
	var cfgErr *ConfigError
	return err != nil && !errors.As(err, &cfgErr)
}
