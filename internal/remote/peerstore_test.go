package remote_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"castdeploy/internal/artifact"
	"castdeploy/internal/destination"
	"castdeploy/internal/logging"
	"castdeploy/internal/remote"
)

// fakeKubo implements the slice of the Kubo RPC API the peer adapter uses.
type fakeKubo struct {
	mu     sync.Mutex
	apiKey string
	blocks map[string][]byte
	files  map[string][]byte
	dirs   map[string]bool
	pinned map[string]bool
	calls  []string
}

func newFakeKubo(apiKey string) *fakeKubo {
	return &fakeKubo{
		apiKey: apiKey,
		blocks: make(map[string][]byte),
		files:  make(map[string][]byte),
		dirs:   map[string]bool{"/": true},
		pinned: make(map[string]bool),
	}
}

func (k *fakeKubo) fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"Message": msg, "Code": 0, "Type": "error"})
}

func (k *fakeKubo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if k.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+k.apiKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	command := strings.TrimPrefix(r.URL.Path, "/api/v0/")
	k.calls = append(k.calls, command)
	args := r.URL.Query()["arg"]

	switch command {
	case "version":
		_ = json.NewEncoder(w).Encode(map[string]string{"Version": "0.30.0"})
	case "add":
		if r.URL.Query().Get("cid-version") != "1" {
			k.fail(w, http.StatusBadRequest, "expected cid-version=1")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			k.fail(w, http.StatusBadRequest, err.Error())
			return
		}
		data, _ := io.ReadAll(file)
		sum := sha256.Sum256(data)
		cid := "bafy" + hex.EncodeToString(sum[:16])
		k.blocks[cid] = data
		// Kubo pins added content unless told otherwise.
		if r.URL.Query().Get("pin") != "false" {
			k.pinned[cid] = true
		}
		fmt.Fprintf(w, "{\"Name\":%q,\"Hash\":%q,\"Size\":\"%d\"}\n", header.Filename, cid, len(data))
	case "files/mkdir":
		for dir := path.Clean(args[0]); !k.dirs[dir]; dir = path.Dir(dir) {
			k.dirs[dir] = true
		}
	case "files/rm":
		if _, ok := k.files[args[0]]; !ok {
			k.fail(w, http.StatusInternalServerError, "file does not exist")
			return
		}
		delete(k.files, args[0])
	case "files/cp":
		if len(args) != 2 || !strings.HasPrefix(args[0], "/ipfs/") {
			k.fail(w, http.StatusBadRequest, "bad cp args")
			return
		}
		if !k.dirs[path.Dir(args[1])] {
			k.fail(w, http.StatusInternalServerError, "cp: cannot get parent dir: file does not exist")
			return
		}
		if _, exists := k.files[args[1]]; exists {
			k.fail(w, http.StatusInternalServerError, "cp: cannot put node in path "+args[1]+": directory already has entry by that name")
			return
		}
		k.files[args[1]] = k.blocks[strings.TrimPrefix(args[0], "/ipfs/")]
	case "files/read":
		data, ok := k.files[args[0]]
		if !ok {
			k.fail(w, http.StatusInternalServerError, "file does not exist")
			return
		}
		_, _ = w.Write(data)
	default:
		k.fail(w, http.StatusNotFound, "unknown command "+command)
	}
}

func (k *fakeKubo) file(p string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	data, ok := k.files[p]
	return data, ok
}

func (k *fakeKubo) pinCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pinned)
}

func peerTarget(t *testing.T, apiURL, apiKey, podcastID string) remote.Target {
	t.Helper()
	cfg := &destination.PeerConfig{APIURL: apiURL, APIKey: apiKey}
	require.NoError(t, destination.Validate(cfg))
	return remote.Target{DestinationID: "peer-1", PodcastID: podcastID, Config: cfg}
}

func TestPeerDeployLinksUnderPodcastNamespace(t *testing.T) {
	kubo := newFakeKubo("token")
	srv := httptest.NewServer(kubo)
	t.Cleanup(srv.Close)
	registry := remote.DefaultRegistry(testOptions(), logging.NewNop())
	ctx := context.Background()

	target := peerTarget(t, srv.URL, "token", "pod-a")
	require.True(t, registry.Test(ctx, target).OK)

	artifacts := []artifact.Artifact{
		{Path: artifact.FeedPath, Content: []byte("<rss>a</rss>")},
		{Path: "episodes/e1.mp3", Content: []byte("audio")},
	}
	first := registry.Deploy(ctx, target, artifacts)
	require.Empty(t, first.Errors)
	require.Equal(t, 2, first.Uploaded)

	feed, ok := kubo.file("/castdeploy/pod-a/feed.xml")
	require.True(t, ok)
	require.Equal(t, "<rss>a</rss>", string(feed))
	_, ok = kubo.file("/castdeploy/pod-a/episodes/e1.mp3.md5")
	require.True(t, ok)

	second := registry.Deploy(ctx, target, artifacts)
	require.Empty(t, second.Errors)
	require.Equal(t, 2, second.Skipped)

	// Replacing an existing MFS entry removes the old link first.
	artifacts[0].Content = []byte("<rss>a2</rss>")
	third := registry.Deploy(ctx, target, artifacts)
	require.Empty(t, third.Errors)
	require.Equal(t, 1, third.Uploaded)
	feed, _ = kubo.file("/castdeploy/pod-a/feed.xml")
	require.Equal(t, "<rss>a2</rss>", string(feed))
	// Replaced content is reachable only through MFS, so no pins pile up.
	require.Zero(t, kubo.pinCount())

	// The same destination serving another podcast writes elsewhere.
	other := peerTarget(t, srv.URL, "token", "pod-b")
	result := registry.Deploy(ctx, other, artifacts[:1])
	require.Equal(t, 1, result.Uploaded)
	_, ok = kubo.file("/castdeploy/pod-b/feed.xml")
	require.True(t, ok)
}

func TestPeerRejectsBadAPIKey(t *testing.T) {
	srv := httptest.NewServer(newFakeKubo("token"))
	t.Cleanup(srv.Close)

	result := remote.DefaultRegistry(testOptions(), logging.NewNop()).Test(context.Background(), peerTarget(t, srv.URL, "wrong", "pod"))
	require.False(t, result.OK)
	require.Contains(t, result.Error, "version")
	require.Contains(t, result.Error, "401")
}
