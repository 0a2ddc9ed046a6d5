package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tidwall/gjson"

	"castdeploy/internal/destination"
)

// PeerAdapter writes to a content-addressed peer node through a
// Kubo-compatible RPC API. Content is added unpinned, then linked into the
// node's mutable filesystem under <root>/<podcastId>.
type PeerAdapter struct {
	opts       Options
	httpClient *http.Client
}

// PeerOption configures a PeerAdapter.
type PeerOption func(*PeerAdapter)

// WithPeerHTTPClient overrides the HTTP client used for RPC calls.
func WithPeerHTTPClient(client *http.Client) PeerOption {
	return func(a *PeerAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewPeerAdapter constructs the peer store adapter.
func NewPeerAdapter(opts Options, options ...PeerOption) *PeerAdapter {
	a := &PeerAdapter{
		opts:       opts,
		httpClient: &http.Client{Transport: newHTTPTransport(opts)},
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *PeerAdapter) Mode() destination.Mode { return destination.ModePeer }

// Root scopes every podcast to its own MFS directory.
func (a *PeerAdapter) Root(target Target) string {
	return path.Join(target.Config.Root(), target.PodcastID)
}

func (a *PeerAdapter) Open(ctx context.Context, target Target) (Session, error) {
	cfg, ok := target.Config.(*destination.PeerConfig)
	if !ok {
		return nil, fmt.Errorf("peer adapter given %T", target.Config)
	}
	s := &peerSession{
		client: a.httpClient,
		base:   strings.TrimRight(cfg.APIURL, "/") + "/api/v0/",
		apiKey: cfg.APIKey,
	}
	body, err := s.call(ctx, "version", nil, nil, "")
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(body, "Version").Exists() {
		return nil, fmt.Errorf("unexpected version response: %s", truncate(body))
	}
	return s, nil
}

type peerSession struct {
	client *http.Client
	base   string
	apiKey string
}

// peerError is an RPC failure reported by the node.
type peerError struct {
	Command string
	Status  int
	Message string
}

func (e *peerError) Error() string {
	return fmt.Sprintf("%s: %s (http %d)", e.Command, e.Message, e.Status)
}

func (e *peerError) Unwrap() error {
	if strings.Contains(e.Message, "does not exist") || strings.Contains(e.Message, "not found") {
		return fs.ErrNotExist
	}
	return nil
}

func (s *peerSession) Get(ctx context.Context, remotePath string) ([]byte, error) {
	body, err := s.call(ctx, "files/read", url.Values{"arg": {remotePath}}, nil, "")
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *peerSession) Put(ctx context.Context, remotePath string, data []byte) error {
	cid, err := s.add(ctx, path.Base(remotePath), data)
	if err != nil {
		return err
	}
	if _, err := s.call(ctx, "files/rm", url.Values{"arg": {remotePath}, "force": {"true"}}, nil, ""); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_, err = s.call(ctx, "files/cp", url.Values{"arg": {"/ipfs/" + cid, remotePath}}, nil, "")
	return err
}

func (s *peerSession) MkdirAll(ctx context.Context, remotePath string) error {
	_, err := s.call(ctx, "files/mkdir", url.Values{"arg": {remotePath}, "parents": {"true"}}, nil, "")
	return err
}

func (s *peerSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// add uploads data as CIDv1 without pinning and returns the content id. The
// MFS link is what keeps the blocks from garbage collection.
func (s *peerSession) add(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	params := url.Values{"cid-version": {"1"}, "pin": {"false"}}
	body, err := s.call(ctx, "add", params, &buf, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	// add streams one JSON object per line; the last names the root.
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	cid := gjson.Get(lines[len(lines)-1], "Hash").String()
	if cid == "" {
		return "", fmt.Errorf("add: response has no hash: %s", truncate(body))
	}
	return cid, nil
}

// call POSTs an RPC command. Non-2xx replies become *peerError.
func (s *peerSession) call(ctx context.Context, command string, params url.Values, body io.Reader, contentType string) ([]byte, error) {
	endpoint := s.base + command
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", command, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := gjson.GetBytes(payload, "Message").String()
		if message == "" {
			message = truncate(payload)
		}
		return nil, &peerError{Command: command, Status: resp.StatusCode, Message: message}
	}
	return payload, nil
}

func truncate(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
