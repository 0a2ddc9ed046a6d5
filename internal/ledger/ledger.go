package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"castdeploy/internal/logging"
	"castdeploy/internal/store"
)

// Status is the lifecycle state of a deploy run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusRunning:
		return StatusRunning, nil
	case StatusSuccess:
		return StatusSuccess, nil
	case StatusFailed:
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown run status %q", value)
}

var (
	// ErrNotFound is returned when a run id does not exist.
	ErrNotFound = errors.New("deploy run not found")
	// ErrAlreadyFinished is returned when finishing a run that is not running.
	ErrAlreadyFinished = errors.New("deploy run already finished")
)

// InterruptedPrefix starts the log of runs closed by ReconcileStale.
const InterruptedPrefix = "interrupted:"

// Run is one deploy attempt against one destination.
type Run struct {
	ID            string     `json:"id"`
	DestinationID string     `json:"destinationId"`
	PodcastID     string     `json:"podcastId"`
	Status        Status     `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Log           string     `json:"log"`
}

// Duration returns how long the run took, or zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	DestinationID string
	PodcastID     string
	Status        Status
	Limit         int
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger records deploy runs in SQLite. Rows are only ever inserted or moved
// from running to a terminal status.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Ledger over db.
func New(db *sql.DB, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		db:     db,
		logger: logging.NewComponentLogger(logger, "ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const runColumns = `id, destination_id, podcast_id, status, started_at, finished_at, log`

// RecordStart inserts a running row and returns its id once committed.
func (l *Ledger) RecordStart(ctx context.Context, destinationID, podcastID string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO deploy_runs (id, destination_id, podcast_id, status, started_at, log) VALUES (?, ?, ?, ?, ?, '')`,
		id, destinationID, podcastID, string(StatusRunning), store.FormatTime(l.now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert deploy run: %w", err)
	}
	l.logger.Debug("run started",
		slog.String(logging.FieldRunID, id),
		slog.String(logging.FieldDestinationID, destinationID),
	)
	return id, nil
}

// RecordFinish moves a running row to status with the final log.
func (l *Ledger) RecordFinish(ctx context.Context, runID string, status Status, log string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish run %s: status %q is not terminal", runID, status)
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE deploy_runs SET status = ?, finished_at = ?, log = ? WHERE id = ? AND status = ?`,
		string(status), store.FormatTime(l.now()), log, runID, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finish deploy run: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.logger.Debug("run finished",
			slog.String(logging.FieldRunID, runID),
			slog.String("status", string(status)),
		)
		return nil
	}

	var current string
	err = l.db.QueryRowContext(ctx, `SELECT status FROM deploy_runs WHERE id = ?`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load deploy run: %w", err)
	}
	return fmt.Errorf("run %s is %s: %w", runID, current, ErrAlreadyFinished)
}

// RecordFailure inserts a run that is failed from the start, for attempts
// that never reached an adapter.
func (l *Ledger) RecordFailure(ctx context.Context, destinationID, podcastID, log string) (Run, error) {
	now := l.now().UTC()
	run := Run{
		ID:            uuid.NewString(),
		DestinationID: destinationID,
		PodcastID:     podcastID,
		Status:        StatusFailed,
		StartedAt:     now,
		FinishedAt:    &now,
		Log:           log,
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO deploy_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, destinationID, podcastID, string(StatusFailed),
		store.FormatTime(now), store.NullableTime(run.FinishedAt), log,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert failed deploy run: %w", err)
	}
	return run, nil
}

// Get loads one run.
func (l *Ledger) Get(ctx context.Context, runID string) (Run, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM deploy_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// List returns runs newest first.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]Run, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.DestinationID != "" {
		clauses = append(clauses, "destination_id = ?")
		args = append(args, filter.DestinationID)
	}
	if filter.PodcastID != "" {
		clauses = append(clauses, "podcast_id = ?")
		args = append(args, filter.PodcastID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM deploy_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deploy runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ReconcileStale fails running rows started before cutoff. These are runs
// whose process died before RecordFinish.
func (l *Ledger) ReconcileStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := l.now()
	log := fmt.Sprintf("%s no terminal status recorded before %s", InterruptedPrefix, cutoff.UTC().Format(time.RFC3339))
	res, err := l.db.ExecContext(ctx,
		`UPDATE deploy_runs SET status = ?, finished_at = ?, log = CASE WHEN log = '' THEN ? ELSE log || char(10) || ? END
		 WHERE status = ? AND started_at < ?`,
		string(StatusFailed), store.FormatTime(now), log, log, string(StatusRunning), store.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reconcile stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reconcile stale runs: %w", err)
	}
	if n > 0 {
		l.logger.Warn("stale runs marked failed", slog.Int64("count", n))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run      Run
		status   string
		started  string
		finished sql.NullString
	)
	if err := s.Scan(&run.ID, &run.DestinationID, &run.PodcastID, &status, &started, &finished, &run.Log); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan deploy run: %w", err)
	}
	run.Status = Status(status)

	var err error
	if run.StartedAt, err = store.ParseTime(started); err != nil {
		return run, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		ts, err := store.ParseTime(finished.String)
		if err != nil {
			return run, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &ts
	}
	return run, nil
}
