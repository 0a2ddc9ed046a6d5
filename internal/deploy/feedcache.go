package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"castdeploy/internal/fileutil"
)

// FeedCache keeps the last feed generated for each destination, since every
// destination gets links built from its own public base URL.
type FeedCache struct {
	dir string
}

// NewFeedCache stores feeds under dir.
func NewFeedCache(dir string) *FeedCache {
	return &FeedCache{dir: dir}
}

// Path returns the cache file for one destination of a podcast.
func (c *FeedCache) Path(podcastID, destinationID string) string {
	return filepath.Join(c.dir, podcastID, destinationID+".xml")
}

// Write replaces the cached feed atomically.
func (c *FeedCache) Write(podcastID, destinationID string, feed []byte) error {
	if err := validateKey("podcast id", podcastID); err != nil {
		return err
	}
	if err := validateKey("destination id", destinationID); err != nil {
		return err
	}
	path := c.Path(podcastID, destinationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create feed cache dir: %w", err)
	}
	return fileutil.WriteFileAtomic(path, feed, 0o644)
}

// Read returns the cached feed.
func (c *FeedCache) Read(podcastID, destinationID string) ([]byte, error) {
	return os.ReadFile(c.Path(podcastID, destinationID))
}
