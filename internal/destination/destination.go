package destination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"castdeploy/internal/store"
)

// Destination is a configured publish target for one podcast. The decrypted
// connection config never lives on this type; it is obtained through
// Manager.Decrypt when an adapter needs it.
type Destination struct {
	ID            string    `json:"id"`
	PodcastID     string    `json:"podcast_id"`
	Mode          Mode      `json:"mode"`
	Name          string    `json:"name"`
	PublicBaseURL string    `json:"public_base_url,omitempty"`
	SealedConfig  []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Repo persists destinations in SQLite.
type Repo struct {
	DB *sql.DB
}

const destinationColumns = `id, podcast_id, mode, name, public_base_url, config, created_at, updated_at`

// Insert stores a new destination row.
func (r *Repo) Insert(ctx context.Context, d Destination) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO destinations (`+destinationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PodcastID, string(d.Mode), d.Name, store.NullableString(d.PublicBaseURL),
		d.SealedConfig, store.FormatTime(d.CreatedAt), store.FormatTime(d.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("destination %q: %w", d.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert destination: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing row. Mode and podcast
// are never updated.
func (r *Repo) Update(ctx context.Context, d Destination) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE destinations SET name = ?, public_base_url = ?, config = ?, updated_at = ? WHERE id = ?`,
		d.Name, store.NullableString(d.PublicBaseURL), d.SealedConfig, store.FormatTime(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update destination: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("destination %q: %w", d.ID, ErrNotFound)
	}
	return nil
}

// UpdateSealedConfig replaces the sealed blob only if it still equals
// previous, so a concurrent edit is never clobbered by a rekey pass.
func (r *Repo) UpdateSealedConfig(ctx context.Context, id string, previous, sealed []byte, updatedAt time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE destinations SET config = ?, updated_at = ? WHERE id = ? AND config = ?`,
		sealed, store.FormatTime(updatedAt), id, previous,
	)
	if err != nil {
		return false, fmt.Errorf("update sealed config: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Delete removes a destination row. Deploy run history is kept.
func (r *Repo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete destination: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("destination %q: %w", id, ErrNotFound)
	}
	return nil
}

// Get loads a destination by id.
func (r *Repo) Get(ctx context.Context, id string) (Destination, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id)
	d, err := scanDestination(row)
	if errors.Is(err, ErrNotFound) {
		return d, fmt.Errorf("destination %q: %w", id, ErrNotFound)
	}
	return d, err
}

// List returns destinations in creation order. An empty podcastID lists all.
func (r *Repo) List(ctx context.Context, podcastID string) ([]Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations`
	args := []any{}
	if podcastID != "" {
		query += ` WHERE podcast_id = ?`
		args = append(args, podcastID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDestination(s scanner) (Destination, error) {
	var (
		d         Destination
		mode      string
		publicURL sql.NullString
		created   string
		updated   string
	)
	if err := s.Scan(&d.ID, &d.PodcastID, &mode, &d.Name, &publicURL, &d.SealedConfig, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, ErrNotFound
		}
		return d, fmt.Errorf("scan destination: %w", err)
	}
	d.Mode = Mode(mode)
	d.PublicBaseURL = publicURL.String

	var err error
	if d.CreatedAt, err = store.ParseTime(created); err != nil {
		return d, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = store.ParseTime(updated); err != nil {
		return d, fmt.Errorf("parse updated_at: %w", err)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
