package artifact

import (
	"path/filepath"
	"strings"
	"testing"

	"castdeploy/internal/testsupport"
)

func TestAssembleOrdersArtifacts(t *testing.T) {
	dir := t.TempDir()
	episodes := []Episode{
		{
			ID:             "ep-1",
			AudioPath:      filepath.Join(dir, "ep-1.MP3"),
			ArtworkPath:    filepath.Join(dir, "ep-1-art.png"),
			TranscriptPath: filepath.Join(dir, "ep-1.vtt"),
		},
		{ID: "ep-2", AudioPath: filepath.Join(dir, "ep-2.m4a")},
	}

	got, err := Assemble([]byte("<rss/>"), filepath.Join(dir, "show.jpeg"), episodes)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	want := []struct {
		path string
		kind Kind
	}{
		{"feed.xml", KindFeed},
		{"cover.jpeg", KindPodcastArtwork},
		{"episodes/ep-1.mp3", KindEpisodeAudio},
		{"episodes/ep-1.png", KindEpisodeArtwork},
		{"episodes/ep-1.srt", KindTranscript},
		{"episodes/ep-2.m4a", KindEpisodeAudio},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d artifacts, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Path != w.path || got[i].Kind != w.kind {
			t.Fatalf("artifact %d = %s/%s, want %s/%s", i, got[i].Path, got[i].Kind, w.path, w.kind)
		}
	}
	if string(got[0].Content) != "<rss/>" || got[0].Source != "" {
		t.Fatalf("feed should carry inline content: %+v", got[0])
	}
}

func TestAssembleWithoutArtwork(t *testing.T) {
	got, err := Assemble([]byte("<rss/>"), "", []Episode{{ID: "e", AudioPath: "/x/e.mp3"}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(got) != 2 || got[1].Path != "episodes/e.mp3" {
		t.Fatalf("unexpected artifacts: %+v", got)
	}
}

func TestAssembleRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		feed     []byte
		episodes []Episode
		want     string
	}{
		{name: "empty feed", feed: nil, want: "feed document is empty"},
		{name: "traversal id", feed: []byte("x"), episodes: []Episode{{ID: "../etc", AudioPath: "a.mp3"}}, want: "not a valid file name"},
		{name: "missing audio", feed: []byte("x"), episodes: []Episode{{ID: "e"}}, want: "has no audio file"},
		{name: "path collision", feed: []byte("x"), episodes: []Episode{{ID: "e", AudioPath: "a.jpg", ArtworkPath: "b.jpg"}}, want: "produced by both"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble(tc.feed, "", tc.episodes)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadReadsSourceLazily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.mp3")
	a := Artifact{Path: "episodes/e.mp3", Kind: KindEpisodeAudio, Source: path}

	if _, err := a.Load(); err == nil {
		t.Fatal("expected error before source exists")
	}
	testsupport.WriteFile(t, path, []byte("ID3"))
	data, err := a.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != "ID3" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestJoin(t *testing.T) {
	if got := Join("", "feed.xml"); got != "feed.xml" {
		t.Fatalf("Join empty root = %q", got)
	}
	if got := Join("/srv/pod", "episodes/e.mp3"); got != "/srv/pod/episodes/e.mp3" {
		t.Fatalf("Join = %q", got)
	}
}
