package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"castdeploy/internal/artifact"
	"castdeploy/internal/contentsync"
	"castdeploy/internal/destination"
	"castdeploy/internal/logging"
)

// Target is what an adapter needs to open a session: the decrypted config
// plus the ids that scope the remote namespace.
type Target struct {
	DestinationID string
	PodcastID     string
	Config        destination.Config
}

// Session is an open connection exposing the sync primitives.
type Session interface {
	contentsync.Store
	io.Closer
}

// Adapter opens sessions for one destination mode.
type Adapter interface {
	Mode() destination.Mode
	Open(ctx context.Context, target Target) (Session, error)
}

// rootResolver is implemented by adapters whose remote root depends on more
// than the config, such as the peer store's per-podcast namespace.
type rootResolver interface {
	Root(target Target) string
}

// Options bound every connection an adapter makes.
type Options struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
}

// TestResult is the outcome of a connectivity test.
type TestResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DeployResult counts sync outcomes for one destination.
type DeployResult struct {
	Uploaded int      `json:"uploaded"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// Failed reports whether any artifact failed.
func (r DeployResult) Failed() bool {
	return len(r.Errors) > 0
}

// Registry maps modes to adapters and runs the shared test and deploy loops.
type Registry struct {
	adapters map[destination.Mode]Adapter
	logger   *slog.Logger
}

// NewRegistry builds a registry from explicit adapters.
func NewRegistry(logger *slog.Logger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[destination.Mode]Adapter, len(adapters)),
		logger:   logging.NewComponentLogger(logger, "remote"),
	}
	for _, a := range adapters {
		r.adapters[a.Mode()] = a
	}
	return r
}

// DefaultRegistry registers an adapter for every supported mode.
func DefaultRegistry(opts Options, logger *slog.Logger) *Registry {
	component := logging.NewComponentLogger(logger, "remote")
	return NewRegistry(logger,
		NewObjectStorageAdapter(opts),
		NewFTPAdapter(opts),
		NewSFTPAdapter(opts, component),
		NewWebDAVAdapter(opts),
		NewPeerAdapter(opts),
		NewSMBAdapter(opts),
	)
}

// Adapter returns the adapter registered for mode.
func (r *Registry) Adapter(mode destination.Mode) (Adapter, error) {
	a, ok := r.adapters[mode]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for mode %q", mode)
	}
	return a, nil
}

// Root returns the remote directory artifacts for target are written under.
func (r *Registry) Root(target Target) string {
	if a, ok := r.adapters[target.Config.Mode()]; ok {
		if resolver, ok := a.(rootResolver); ok {
			return resolver.Root(target)
		}
	}
	return target.Config.Root()
}

// Test opens a session, ensures the root exists and closes the session.
// Nothing else is written.
func (r *Registry) Test(ctx context.Context, target Target) TestResult {
	if target.Config == nil {
		return TestResult{Error: "destination config is missing"}
	}
	adapter, err := r.Adapter(target.Config.Mode())
	if err != nil {
		return TestResult{Error: err.Error()}
	}

	session, err := adapter.Open(ctx, target)
	if err != nil {
		return TestResult{Error: fmt.Sprintf("connect: %v", err)}
	}
	defer r.closeSession(session, target)

	if root := r.Root(target); root != "" {
		if err := session.MkdirAll(ctx, root); err != nil {
			return TestResult{Error: fmt.Sprintf("create %s: %v", root, err)}
		}
	}
	return TestResult{OK: true}
}

// Deploy syncs artifacts in order over one session. A failing artifact is
// recorded and the loop continues; cancellation stops the loop and records
// how many artifacts were not attempted.
func (r *Registry) Deploy(ctx context.Context, target Target, artifacts []artifact.Artifact) DeployResult {
	result := DeployResult{Errors: []string{}}
	if target.Config == nil {
		result.Errors = append(result.Errors, "destination config is missing")
		return result
	}
	adapter, err := r.Adapter(target.Config.Mode())
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	session, err := adapter.Open(ctx, target)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("connect: %v", err))
		return result
	}
	defer r.closeSession(session, target)

	store := newDirCache(session)
	root := r.Root(target)
	logger := r.logger.With(
		slog.String(logging.FieldDestinationID, target.DestinationID),
		slog.String(logging.FieldMode, string(target.Config.Mode())),
	)

	for i, a := range artifacts {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("deploy interrupted, %d artifacts not attempted: %v", len(artifacts)-i, err))
			break
		}
		remotePath := artifact.Join(root, a.Path)
		data, err := a.Load()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", a.Path, err))
			logger.Warn("artifact unreadable", slog.String(logging.FieldPath, a.Path), logging.Error(err))
			continue
		}
		action, err := contentsync.Sync(ctx, store, remotePath, data)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", a.Path, err))
			logger.Warn("artifact sync failed", slog.String(logging.FieldPath, remotePath), logging.Error(err))
			continue
		}
		switch action {
		case contentsync.Uploaded:
			result.Uploaded++
		case contentsync.Skipped:
			result.Skipped++
		}
		logger.Debug("artifact synced",
			slog.String(logging.FieldPath, remotePath),
			slog.String("action", string(action)),
			slog.Int("bytes", len(data)),
		)
	}
	return result
}

func (r *Registry) closeSession(session Session, target Target) {
	if err := session.Close(); err != nil {
		r.logger.Debug("close session",
			slog.String(logging.FieldDestinationID, target.DestinationID),
			logging.Error(err),
		)
	}
}

// dirCache remembers directories created during one session.
type dirCache struct {
	Session
	made map[string]bool
}

func newDirCache(s Session) *dirCache {
	return &dirCache{Session: s, made: make(map[string]bool)}
}

func (d *dirCache) MkdirAll(ctx context.Context, p string) error {
	if d.made[p] {
		return nil
	}
	if err := d.Session.MkdirAll(ctx, p); err != nil {
		return err
	}
	for dir := p; dir != "." && dir != "/" && dir != "" && !d.made[dir]; dir = path.Dir(dir) {
		d.made[dir] = true
	}
	return nil
}
