package artifact

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Kind names what an artifact is, for logs and ordering.
type Kind string

const (
	KindFeed           Kind = "feed"
	KindPodcastArtwork Kind = "podcast_artwork"
	KindEpisodeAudio   Kind = "episode_audio"
	KindEpisodeArtwork Kind = "episode_artwork"
	KindTranscript     Kind = "transcript"
)

// Remote layout, relative to a destination root.
const (
	FeedPath    = "feed.xml"
	CoverBase   = "cover"
	EpisodesDir = "episodes"
	// TranscriptExt is fixed regardless of the source file name.
	TranscriptExt = ".srt"
)

// Artifact is one deployable unit. Exactly one of Source and Content is set;
// Source is read lazily so an unreadable file fails only its own artifact.
type Artifact struct {
	Path    string
	Kind    Kind
	Source  string
	Content []byte
}

// Load returns the artifact bytes.
func (a Artifact) Load() ([]byte, error) {
	if a.Source == "" {
		return a.Content, nil
	}
	data, err := os.ReadFile(a.Source)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.Source, err)
	}
	return data, nil
}

// Episode is a published episode's local files. Empty paths are skipped,
// except AudioPath which is required.
type Episode struct {
	ID             string
	AudioPath      string
	ArtworkPath    string
	TranscriptPath string
}

// Assemble builds the ordered artifact set: feed, podcast artwork, then for
// each episode its audio, artwork override and transcript.
func Assemble(feed []byte, artworkPath string, episodes []Episode) ([]Artifact, error) {
	if len(feed) == 0 {
		return nil, errors.New("feed document is empty")
	}

	out := make([]Artifact, 0, 2+3*len(episodes))
	seen := make(map[string]string)
	add := func(a Artifact) error {
		if owner, dup := seen[a.Path]; dup {
			return fmt.Errorf("remote path %s produced by both %s and %s", a.Path, owner, a.Kind)
		}
		seen[a.Path] = string(a.Kind)
		out = append(out, a)
		return nil
	}

	if err := add(Artifact{Path: FeedPath, Kind: KindFeed, Content: feed}); err != nil {
		return nil, err
	}
	if artworkPath != "" {
		if err := add(Artifact{Path: CoverPath(artworkPath), Kind: KindPodcastArtwork, Source: artworkPath}); err != nil {
			return nil, err
		}
	}

	for _, ep := range episodes {
		if err := validateEpisodeID(ep.ID); err != nil {
			return nil, err
		}
		if ep.AudioPath == "" {
			return nil, fmt.Errorf("episode %s has no audio file", ep.ID)
		}
		items := []Artifact{{Path: EpisodeAudioPath(ep.ID, ep.AudioPath), Kind: KindEpisodeAudio, Source: ep.AudioPath}}
		if ep.ArtworkPath != "" {
			items = append(items, Artifact{Path: EpisodeArtworkPath(ep.ID, ep.ArtworkPath), Kind: KindEpisodeArtwork, Source: ep.ArtworkPath})
		}
		if ep.TranscriptPath != "" {
			items = append(items, Artifact{Path: TranscriptPath(ep.ID), Kind: KindTranscript, Source: ep.TranscriptPath})
		}
		for _, item := range items {
			if err := add(item); err != nil {
				return nil, fmt.Errorf("episode %s: %w", ep.ID, err)
			}
		}
	}
	return out, nil
}

// CoverPath is the remote path of the podcast artwork.
func CoverPath(source string) string {
	return CoverBase + sourceExt(source)
}

// EpisodeAudioPath is the remote path of an episode's audio.
func EpisodeAudioPath(episodeID, source string) string {
	return path.Join(EpisodesDir, episodeID+sourceExt(source))
}

// EpisodeArtworkPath is the remote path of an episode's artwork override.
func EpisodeArtworkPath(episodeID, source string) string {
	return path.Join(EpisodesDir, episodeID+sourceExt(source))
}

// TranscriptPath is the remote path of an episode's transcript.
func TranscriptPath(episodeID string) string {
	return path.Join(EpisodesDir, episodeID+TranscriptExt)
}

// Join places rel under a destination root. An empty root leaves rel as is.
func Join(root, rel string) string {
	if root == "" {
		return rel
	}
	return path.Join(root, rel)
}

func sourceExt(source string) string {
	return strings.ToLower(filepath.Ext(source))
}

func validateEpisodeID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("episode id is empty")
	case id == "." || id == "..", strings.ContainsAny(id, `/\`):
		return fmt.Errorf("episode id %q is not a valid file name", id)
	}
	return nil
}
