package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"castdeploy/internal/artifact"
	"castdeploy/internal/destination"
	"castdeploy/internal/ledger"
	"castdeploy/internal/logging"
	"castdeploy/internal/remote"
)

// Catalog supplies the podcast content a deploy publishes.
type Catalog interface {
	// GenerateFeed renders the feed document for the episodes published at
	// now, with links under publicBaseURL. An empty base URL leaves links
	// relative to the feed.
	GenerateFeed(ctx context.Context, podcastID, publicBaseURL string, now time.Time) ([]byte, error)
	// PublishedEpisodes lists episodes whose publish time is at or before now.
	PublishedEpisodes(ctx context.Context, podcastID string, now time.Time) ([]artifact.Episode, error)
	// PodcastArtwork returns the local artwork path, or "" when there is none.
	PodcastArtwork(ctx context.Context, podcastID string) (string, error)
}

// Remote runs connectivity tests and artifact syncs. *remote.Registry
// implements it.
type Remote interface {
	Test(ctx context.Context, target remote.Target) remote.TestResult
	Deploy(ctx context.Context, target remote.Target, artifacts []artifact.Artifact) remote.DeployResult
}

// Log prefixes for runs that fail before any transfer.
const (
	DecryptFailurePrefix = "decrypt destination config: "
	InvalidConfigPrefix  = "invalid destination config: "
)

// RunResult is the outcome of deploying one destination.
type RunResult struct {
	DestinationID   string              `json:"destinationId"`
	DestinationName string              `json:"destinationName"`
	Mode            destination.Mode    `json:"mode"`
	Run             ledger.Run          `json:"run"`
	Result          remote.DeployResult `json:"result"`
}

// Succeeded reports whether the run finished successfully.
func (r RunResult) Succeeded() bool {
	return r.Run.Status == ledger.StatusSuccess
}

// Dependencies are the collaborators a Service needs.
type Dependencies struct {
	Destinations *destination.Manager
	Runs         *ledger.Ledger
	Remote       Remote
	Catalog      Catalog
	Feeds        *FeedCache
	Locks        *Locker
	Logger       *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time used to select published episodes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDestinationTimeout bounds each destination's deploy. Zero disables it.
func WithDestinationTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.destinationTimeout = timeout
	}
}

// Service orchestrates deploys: it resolves destinations, assembles the
// artifact set, hands it to the matching adapter and records the run.
type Service struct {
	destinations       *destination.Manager
	runs               *ledger.Ledger
	remote             Remote
	catalog            Catalog
	feeds              *FeedCache
	locks              *Locker
	logger             *slog.Logger
	now                func() time.Time
	destinationTimeout time.Duration
}

// NewService validates deps and builds a Service.
func NewService(deps Dependencies, opts ...Option) (*Service, error) {
	var missing []string
	if deps.Destinations == nil {
		missing = append(missing, "destinations")
	}
	if deps.Runs == nil {
		missing = append(missing, "runs")
	}
	if deps.Remote == nil {
		missing = append(missing, "remote")
	}
	if deps.Catalog == nil {
		missing = append(missing, "catalog")
	}
	if deps.Feeds == nil {
		missing = append(missing, "feeds")
	}
	if deps.Locks == nil {
		missing = append(missing, "locks")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("deploy service requires %s", strings.Join(missing, ", "))
	}

	s := &Service{
		destinations: deps.Destinations,
		runs:         deps.Runs,
		remote:       deps.Remote,
		catalog:      deps.Catalog,
		feeds:        deps.Feeds,
		locks:        deps.Locks,
		logger:       logging.NewComponentLogger(deps.Logger, "deploy"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DeployOne deploys a single destination under its podcast lock. Errors are
// returned only for unknown destinations, lock failures and ledger failures;
// everything else ends in a failed run.
func (s *Service) DeployOne(ctx context.Context, destinationID string) (RunResult, error) {
	d, err := s.destinations.Get(ctx, destinationID)
	if err != nil {
		return RunResult{}, err
	}
	release, err := s.locks.Acquire(ctx, d.PodcastID)
	if err != nil {
		return RunResult{}, err
	}
	defer release()

	return s.deployDestination(ctx, d)
}

// DeployAll deploys every destination of podcastID in creation order. A
// failing destination does not stop the ones after it, and neither does a
// ledger write that fails for one destination.
func (s *Service) DeployAll(ctx context.Context, podcastID string) ([]RunResult, error) {
	release, err := s.locks.Acquire(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	defer release()

	destinations, err := s.destinations.List(ctx, podcastID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	if len(destinations) == 0 {
		s.logger.Info("no destinations configured", slog.String(logging.FieldPodcastID, podcastID))
		return []RunResult{}, nil
	}

	results := make([]RunResult, 0, len(destinations))
	for _, d := range destinations {
		result, err := s.deployDestination(ctx, d)
		if err != nil {
			s.logger.Error("deploy run not recorded",
				slog.String(logging.FieldDestinationID, d.ID),
				slog.String(logging.FieldRunID, result.Run.ID),
				logging.Error(err),
			)
			result = unrecordedRun(result, d, err)
		}
		results = append(results, result)
	}

	failed := 0
	for _, r := range results {
		if !r.Succeeded() {
			failed++
		}
	}
	s.logger.Info("podcast deploy finished",
		slog.String(logging.FieldPodcastID, podcastID),
		slog.Int("destinations", len(results)),
		slog.Int("failed", failed),
	)
	return results, nil
}

// TestDestination opens a connection to the destination and ensures its root
// exists. Config problems are reported in the result, not as an error.
func (s *Service) TestDestination(ctx context.Context, destinationID string) (remote.TestResult, error) {
	d, err := s.destinations.Get(ctx, destinationID)
	if err != nil {
		return remote.TestResult{}, err
	}
	cfg, err := s.destinations.Decrypt(d)
	if err != nil {
		return remote.TestResult{Error: configFailureMessage(err)}, nil
	}

	ctx, cancel := s.withDestinationTimeout(ctx)
	defer cancel()
	result := s.remote.Test(ctx, s.target(d, cfg))
	s.logger.Info("destination tested",
		slog.String(logging.FieldDestinationID, d.ID),
		slog.String(logging.FieldMode, string(d.Mode)),
		slog.Bool("ok", result.OK),
	)
	return result, nil
}

func (s *Service) deployDestination(ctx context.Context, d destination.Destination) (RunResult, error) {
	logger := s.logger.With(
		slog.String(logging.FieldDestinationID, d.ID),
		slog.String(logging.FieldPodcastID, d.PodcastID),
		slog.String(logging.FieldMode, string(d.Mode)),
	)
	out := RunResult{DestinationID: d.ID, DestinationName: d.Name, Mode: d.Mode}
	// Ledger writes outlive cancellation so every run reaches a terminal state.
	ledgerCtx := context.WithoutCancel(ctx)

	cfg, err := s.destinations.Decrypt(d)
	if err != nil {
		message := configFailureMessage(err)
		out.Result = remote.DeployResult{Errors: []string{message}}
		run, recErr := s.runs.RecordFailure(ledgerCtx, d.ID, d.PodcastID, message)
		if recErr != nil {
			return out, fmt.Errorf("record failed run: %w", recErr)
		}
		logger.Error("destination config unusable", slog.String(logging.FieldRunID, run.ID), logging.Error(err))
		out.Run = run
		return out, nil
	}

	runID, err := s.runs.RecordStart(ledgerCtx, d.ID, d.PodcastID)
	if err != nil {
		return out, fmt.Errorf("record run start: %w", err)
	}
	out.Run.ID = runID
	logger = logger.With(slog.String(logging.FieldRunID, runID))
	logger.Info("deploy started")

	result := s.execute(ctx, d, cfg, logger)
	out.Result = result
	status := ledger.StatusSuccess
	if result.Failed() {
		status = ledger.StatusFailed
	}
	if err := s.runs.RecordFinish(ledgerCtx, runID, status, FormatLog(result)); err != nil {
		return out, fmt.Errorf("record run finish: %w", err)
	}
	run, err := s.runs.Get(ledgerCtx, runID)
	if err != nil {
		return out, fmt.Errorf("load run: %w", err)
	}

	attrs := []any{
		slog.String("status", string(status)),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", len(result.Errors)),
	}
	if status == ledger.StatusFailed {
		logger.Warn("deploy finished with errors", attrs...)
	} else {
		logger.Info("deploy finished", attrs...)
	}

	out.Run = run
	return out, nil
}

// unrecordedRun reports a destination whose ledger write failed as a failed
// result. A run that was started stays running in the ledger until
// reconciled.
func unrecordedRun(out RunResult, d destination.Destination, err error) RunResult {
	out.Result.Errors = append(out.Result.Errors, err.Error())
	out.Run.DestinationID = d.ID
	out.Run.PodcastID = d.PodcastID
	out.Run.Status = ledger.StatusFailed
	out.Run.Log = FormatLog(out.Result)
	return out
}

// execute gathers artifacts and runs the transfer. It never panics; a panic
// anywhere below becomes an entry in the error list.
func (s *Service) execute(ctx context.Context, d destination.Destination, cfg destination.Config, logger *slog.Logger) (result remote.DeployResult) {
	result.Errors = []string{}
	defer func() {
		if r := recover(); r != nil {
			if result.Errors == nil {
				result.Errors = []string{}
			}
			result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", r))
			logger.Error("deploy panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	ctx, cancel := s.withDestinationTimeout(ctx)
	defer cancel()

	artifacts, feed, err := s.assemble(ctx, d)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result = s.remote.Deploy(ctx, s.target(d, cfg), artifacts)
	if result.Errors == nil {
		result.Errors = []string{}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && result.Failed() {
		result.Errors = append(result.Errors, fmt.Sprintf("destination timeout of %s exceeded", s.destinationTimeout))
	}

	if err := s.feeds.Write(d.PodcastID, d.ID, feed); err != nil {
		logger.Warn("feed cache write failed", logging.Error(err))
	}
	return result
}

func (s *Service) assemble(ctx context.Context, d destination.Destination) ([]artifact.Artifact, []byte, error) {
	// One instant selects episodes for both the feed and the uploads.
	now := s.now()
	feed, err := s.catalog.GenerateFeed(ctx, d.PodcastID, d.PublicBaseURL, now)
	if err != nil {
		return nil, nil, fmt.Errorf("generate feed: %w", err)
	}
	artwork, err := s.catalog.PodcastArtwork(ctx, d.PodcastID)
	if err != nil {
		return nil, nil, fmt.Errorf("podcast artwork: %w", err)
	}
	episodes, err := s.catalog.PublishedEpisodes(ctx, d.PodcastID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("published episodes: %w", err)
	}
	artifacts, err := artifact.Assemble(feed, artwork, episodes)
	if err != nil {
		return nil, nil, fmt.Errorf("assemble artifacts: %w", err)
	}
	return artifacts, feed, nil
}

func (s *Service) target(d destination.Destination, cfg destination.Config) remote.Target {
	return remote.Target{DestinationID: d.ID, PodcastID: d.PodcastID, Config: cfg}
}

func (s *Service) withDestinationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.destinationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.destinationTimeout)
}

func configFailureMessage(err error) string {
	if destination.IsDecryptFailure(err) {
		return DecryptFailurePrefix + err.Error()
	}
	return InvalidConfigPrefix + err.Error()
}

// FormatLog renders a run log: a count line, then one "- " line per error.
func FormatLog(result remote.DeployResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uploaded %d, skipped %d", result.Uploaded, result.Skipped)
	if !result.Failed() {
		return b.String()
	}
	fmt.Fprintf(&b, ", failed %d", len(result.Errors))
	for _, e := range result.Errors {
		b.WriteString("\n- ")
		b.WriteString(e)
	}
	return b.String()
}
