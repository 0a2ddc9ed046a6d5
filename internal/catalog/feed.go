package catalog

import (
	"encoding/xml"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"castdeploy/internal/artifact"
)

type rss struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel channel  `xml:"channel"`
}

type channel struct {
	Title          string `xml:"title"`
	Link           string `xml:"link,omitempty"`
	Description    string `xml:"description"`
	Language       string `xml:"language,omitempty"`
	ManagingEditor string `xml:"managingEditor,omitempty"`
	LastBuildDate  string `xml:"lastBuildDate,omitempty"`
	Image          *image `xml:"image,omitempty"`
	Items          []item `xml:"item"`
}

type image struct {
	URL   string `xml:"url"`
	Title string `xml:"title"`
	Link  string `xml:"link,omitempty"`
}

type item struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description,omitempty"`
	GUID        guid      `xml:"guid"`
	PubDate     string    `xml:"pubDate"`
	Enclosure   enclosure `xml:"enclosure"`
}

type guid struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// RenderFeed builds an RSS 2.0 document for the episodes published at now.
// Media URLs use the remote layout joined onto publicBaseURL, or stay
// relative to the feed when the base URL is empty. The output depends only on
// the manifest and the published set, so an unchanged podcast renders the same
// bytes on every deploy.
func RenderFeed(p *Podcast, publicBaseURL string, now time.Time) ([]byte, error) {
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	link := func(rel string) string {
		if base == "" {
			return rel
		}
		return base + "/" + rel
	}

	ch := channel{
		Title:          p.Title,
		Link:           p.Link,
		Description:    p.Description,
		Language:       p.Language,
		ManagingEditor: p.Author,
	}
	if p.Artwork != "" {
		ch.Image = &image{URL: link(artifact.CoverPath(p.Artwork)), Title: p.Title, Link: p.Link}
	}

	published := p.PublishedAt(now)
	if n := len(published); n > 0 {
		ch.LastBuildDate = published[n-1].PublishAt.UTC().Format(time.RFC1123Z)
	}
	// Newest first, as podcast clients expect.
	for i := len(published) - 1; i >= 0; i-- {
		ep := published[i]
		audioPath := p.Resolve(ep.Audio)
		var size int64
		if info, err := os.Stat(audioPath); err == nil {
			size = info.Size()
		}
		ch.Items = append(ch.Items, item{
			Title:       ep.Title,
			Description: ep.Description,
			GUID:        guid{Value: ep.ID},
			PubDate:     ep.PublishAt.UTC().Format(time.RFC1123Z),
			Enclosure: enclosure{
				URL:    link(artifact.EpisodeAudioPath(ep.ID, ep.Audio)),
				Length: size,
				Type:   audioType(ep.Audio),
			},
		})
	}

	body, err := xml.MarshalIndent(rss{Version: "2.0", Channel: ch}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render feed: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func audioType(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
