package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another deploy holds the podcast lock.
var ErrLocked = errors.New("podcast deploy already in progress")

const lockRetryDelay = 100 * time.Millisecond

// Locker serializes deploys of one podcast across processes with advisory
// file locks under dir.
type Locker struct {
	dir     string
	timeout time.Duration
}

// NewLocker returns a Locker that waits up to timeout for a held lock. A zero
// timeout fails immediately when the lock is held.
func NewLocker(dir string, timeout time.Duration) *Locker {
	return &Locker{dir: dir, timeout: timeout}
}

// Path returns the lock file for podcastID.
func (l *Locker) Path(podcastID string) string {
	return filepath.Join(l.dir, podcastID+".lock")
}

// Acquire takes the podcast lock. The returned release func is safe to call
// once.
func (l *Locker) Acquire(ctx context.Context, podcastID string) (func(), error) {
	if err := validateKey("podcast id", podcastID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lock := flock.New(l.Path(podcastID))
	var (
		ok  bool
		err error
	)
	if l.timeout <= 0 {
		ok, err = lock.TryLock()
	} else {
		lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
		ok, err = lock.TryLockContext(lockCtx, lockRetryDelay)
		cancel()
	}
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, fmt.Errorf("%w: %s", ErrLocked, podcastID)
	case err != nil:
		return nil, fmt.Errorf("acquire podcast lock: %w", err)
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrLocked, podcastID)
	}
	return func() { _ = lock.Unlock() }, nil
}

// validateKey rejects ids that cannot be used as a single path element.
func validateKey(label, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return fmt.Errorf("%s is required", label)
	case value == "." || value == "..", strings.ContainsAny(value, `/\`):
		return fmt.Errorf("%s %q is not a valid file name", label, value)
	}
	return nil
}
