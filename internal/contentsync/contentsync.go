// Package contentsync decides per artifact whether a remote copy is current
// by comparing the artifact's MD5 with a text sidecar stored next to it.
//
// The algorithm is written once against Store, the three primitives every
// protocol adapter provides. MD5 is an identity check for unchanged bytes,
// not a security boundary.
package contentsync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// SidecarSuffix is appended to an artifact path to name its hash sidecar.
const SidecarSuffix = ".md5"

// Store is the minimal remote capability set the sync algorithm needs.
// Get must return an error wrapping fs.ErrNotExist for a missing object.
// MkdirAll must succeed when the directory already exists.
type Store interface {
	Get(ctx context.Context, remotePath string) ([]byte, error)
	Put(ctx context.Context, remotePath string, data []byte) error
	MkdirAll(ctx context.Context, remotePath string) error
}

// Action is the outcome of syncing one artifact.
type Action string

const (
	Uploaded Action = "uploaded"
	Skipped  Action = "skipped"
)

// Hash returns the lowercase hex MD5 of data.
func Hash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SidecarPath returns the sidecar location for remotePath.
func SidecarPath(remotePath string) string {
	return remotePath + SidecarSuffix
}

// Sync uploads content to remotePath unless the sidecar already records its
// hash. The sidecar is written only after the content write succeeded, so a
// failed transfer is retried on the next run.
func Sync(ctx context.Context, store Store, remotePath string, content []byte) (Action, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := Hash(content)

	existing, err := store.Get(ctx, SidecarPath(remotePath))
	if err == nil && strings.TrimSpace(string(existing)) == hash {
		return Skipped, nil
	}
	// Any other read failure falls through: the upload below reports the
	// real transport error if there is one.
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" && dir != "" {
		if err := store.MkdirAll(ctx, dir); err != nil {
			return "", fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := store.Put(ctx, remotePath, content); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if err := store.Put(ctx, SidecarPath(remotePath), []byte(hash)); err != nil {
		return "", fmt.Errorf("write sidecar: %w", err)
	}
	return Uploaded, nil
}
