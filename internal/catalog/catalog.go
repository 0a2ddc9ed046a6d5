package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"castdeploy/internal/artifact"
)

// ManifestName is the per-podcast catalog file.
const ManifestName = "podcast.toml"

// Episode statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// ErrNotFound is returned when a podcast has no manifest.
var ErrNotFound = errors.New("podcast not found in catalog")

// Podcast is a podcast manifest. File paths are relative to the podcast
// directory unless absolute.
type Podcast struct {
	Title       string    `toml:"title"`
	Link        string    `toml:"link"`
	Description string    `toml:"description"`
	Language    string    `toml:"language"`
	Author      string    `toml:"author"`
	Artwork     string    `toml:"artwork"`
	Episodes    []Episode `toml:"episodes"`

	dir string
}

// Episode is one manifest entry.
type Episode struct {
	ID          string    `toml:"id"`
	Title       string    `toml:"title"`
	Description string    `toml:"description"`
	Status      string    `toml:"status"`
	PublishAt   time.Time `toml:"publish_at"`
	Audio       string    `toml:"audio"`
	Artwork     string    `toml:"artwork"`
	Transcript  string    `toml:"transcript"`
	Duration    int       `toml:"duration"`
}

// Published reports whether e is visible at now.
func (e Episode) Published(now time.Time) bool {
	return strings.EqualFold(e.Status, StatusPublished) && !e.PublishAt.IsZero() && !e.PublishAt.After(now)
}

// Catalog reads manifests from <dir>/<podcastID>/podcast.toml.
type Catalog struct {
	dir string
}

// New returns a catalog rooted at dir.
func New(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Load parses and validates a podcast manifest.
func (c *Catalog) Load(podcastID string) (*Podcast, error) {
	if err := validateID("podcast id", podcastID); err != nil {
		return nil, err
	}
	dir := filepath.Join(c.dir, podcastID)
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, podcastID)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var p Podcast
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s manifest: %w", podcastID, err)
	}
	p.dir = dir
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s manifest: %w", podcastID, err)
	}
	return &p, nil
}

func (p *Podcast) validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	seen := make(map[string]bool, len(p.Episodes))
	for i, ep := range p.Episodes {
		if err := validateID("episode id", ep.ID); err != nil {
			return fmt.Errorf("episodes[%d]: %w", i, err)
		}
		if seen[ep.ID] {
			return fmt.Errorf("episodes[%d]: duplicate id %q", i, ep.ID)
		}
		seen[ep.ID] = true
		switch strings.ToLower(ep.Status) {
		case StatusDraft, StatusPublished:
		default:
			return fmt.Errorf("episodes[%d]: status %q must be draft or published", i, ep.Status)
		}
		if strings.EqualFold(ep.Status, StatusPublished) {
			if ep.Audio == "" {
				return fmt.Errorf("episodes[%d]: published episode needs audio", i)
			}
			if ep.PublishAt.IsZero() {
				return fmt.Errorf("episodes[%d]: published episode needs publish_at", i)
			}
		}
	}
	return nil
}

// Resolve turns a manifest path into an absolute local path.
func (p *Podcast) Resolve(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.dir, filepath.FromSlash(rel))
}

// PublishedAt returns the episodes visible at now, oldest first.
func (p *Podcast) PublishedAt(now time.Time) []Episode {
	var out []Episode
	for _, ep := range p.Episodes {
		if ep.Published(now) {
			out = append(out, ep)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PublishAt.Equal(out[j].PublishAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PublishAt.Before(out[j].PublishAt)
	})
	return out
}

// PublishedEpisodes lists local files of episodes published at or before now.
func (c *Catalog) PublishedEpisodes(_ context.Context, podcastID string, now time.Time) ([]artifact.Episode, error) {
	p, err := c.Load(podcastID)
	if err != nil {
		return nil, err
	}
	published := p.PublishedAt(now)
	out := make([]artifact.Episode, 0, len(published))
	for _, ep := range published {
		out = append(out, artifact.Episode{
			ID:             ep.ID,
			AudioPath:      p.Resolve(ep.Audio),
			ArtworkPath:    p.Resolve(ep.Artwork),
			TranscriptPath: p.Resolve(ep.Transcript),
		})
	}
	return out, nil
}

// PodcastArtwork returns the local artwork path, or "" when none is set.
func (c *Catalog) PodcastArtwork(_ context.Context, podcastID string) (string, error) {
	p, err := c.Load(podcastID)
	if err != nil {
		return "", err
	}
	return p.Resolve(p.Artwork), nil
}

// GenerateFeed renders the RSS document for podcastID with the episodes
// published at now.
func (c *Catalog) GenerateFeed(_ context.Context, podcastID, publicBaseURL string, now time.Time) ([]byte, error) {
	p, err := c.Load(podcastID)
	if err != nil {
		return nil, err
	}
	return RenderFeed(p, publicBaseURL, now)
}

func validateID(label, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return fmt.Errorf("%s is required", label)
	case value == "." || value == "..", strings.ContainsAny(value, `/\`):
		return fmt.Errorf("%s %q is not a valid file name", label, value)
	}
	return nil
}
