package remote

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/studio-b12/gowebdav"

	"castdeploy/internal/destination"
)

// WebDAVAdapter writes to a WebDAV collection.
type WebDAVAdapter struct {
	opts Options
}

// NewWebDAVAdapter constructs the WebDAV adapter.
func NewWebDAVAdapter(opts Options) *WebDAVAdapter {
	return &WebDAVAdapter{opts: opts}
}

func (a *WebDAVAdapter) Mode() destination.Mode { return destination.ModeWebDAV }

func (a *WebDAVAdapter) Open(ctx context.Context, target Target) (Session, error) {
	cfg, ok := target.Config.(*destination.WebDAVConfig)
	if !ok {
		return nil, fmt.Errorf("webdav adapter given %T", target.Config)
	}

	transport := newHTTPTransport(a.opts)
	client := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	client.SetTransport(&contextTransport{ctx: ctx, base: transport})
	if err := client.Connect(); err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}
	return &webdavSession{client: client, transport: transport}, nil
}

type webdavSession struct {
	client    *gowebdav.Client
	transport *http.Transport
}

func (s *webdavSession) Get(_ context.Context, remotePath string) ([]byte, error) {
	data, err := s.client.Read(remotePath)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, fmt.Errorf("%s: %w", remotePath, fs.ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

func (s *webdavSession) Put(_ context.Context, remotePath string, data []byte) error {
	return s.client.Write(remotePath, data, 0o644)
}

// MkdirAll treats 405 Method Not Allowed as an existing collection.
func (s *webdavSession) MkdirAll(_ context.Context, remotePath string) error {
	err := s.client.MkdirAll(remotePath, 0o755)
	if err != nil && gowebdav.IsErrCode(err, http.StatusMethodNotAllowed) {
		return nil
	}
	return err
}

func (s *webdavSession) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}
