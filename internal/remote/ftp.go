package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"

	"github.com/jlaffaye/ftp"

	"castdeploy/internal/destination"
)

// FTPAdapter writes over FTP, optionally upgraded with AUTH TLS.
type FTPAdapter struct {
	opts Options
}

// NewFTPAdapter constructs the FTP adapter.
func NewFTPAdapter(opts Options) *FTPAdapter {
	return &FTPAdapter{opts: opts}
}

func (a *FTPAdapter) Mode() destination.Mode { return destination.ModeFTP }

func (a *FTPAdapter) Open(ctx context.Context, target Target) (Session, error) {
	cfg, ok := target.Config.(*destination.FTPConfig)
	if !ok {
		return nil, fmt.Errorf("ftp adapter given %T", target.Config)
	}

	conns := &connSet{}
	dial := func(_, address string) (net.Conn, error) {
		conn, err := dialTCP(ctx, address, a.opts)
		if err != nil {
			return nil, err
		}
		return conns.track(conn), nil
	}

	options := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(a.opts.ConnectTimeout),
		ftp.DialWithDialFunc(dial),
	}
	if cfg.ExplicitTLS {
		options = append(options, ftp.DialWithExplicitTLS(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}))
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := ftp.Dial(addr, options...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, conns.closeAll)

	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		stop()
		_ = conn.Quit()
		return nil, fmt.Errorf("login: %w", err)
	}
	home, err := conn.CurrentDir()
	if err != nil {
		stop()
		_ = conn.Quit()
		return nil, fmt.Errorf("resolve login directory: %w", err)
	}
	return &ftpSession{conn: conn, home: home, stop: stop}, nil
}

type ftpSession struct {
	conn *ftp.ServerConn
	home string
	stop func() bool
}

func (s *ftpSession) Get(_ context.Context, remotePath string) ([]byte, error) {
	resp, err := s.conn.Retr(remotePath)
	if err != nil {
		if isFTPNotFound(err) {
			return nil, fmt.Errorf("%s: %w", remotePath, fs.ErrNotExist)
		}
		return nil, err
	}
	data, readErr := io.ReadAll(resp)
	if closeErr := resp.Close(); readErr == nil {
		readErr = closeErr
	}
	return data, readErr
}

func (s *ftpSession) Put(_ context.Context, remotePath string, data []byte) error {
	return s.conn.Stor(remotePath, bytes.NewReader(data))
}

// MkdirAll creates each missing segment. A MKD failure is accepted when the
// directory can be entered, which is how FTP reports "already exists".
func (s *ftpSession) MkdirAll(_ context.Context, remotePath string) error {
	for _, dir := range pathPrefixes(remotePath) {
		if err := s.conn.MakeDir(dir); err == nil {
			continue
		} else if !s.dirExists(dir) {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

func (s *ftpSession) dirExists(dir string) bool {
	if err := s.conn.ChangeDir(dir); err != nil {
		return false
	}
	_ = s.conn.ChangeDir(s.home)
	return true
}

func (s *ftpSession) Close() error {
	s.stop()
	return s.conn.Quit()
}

func isFTPNotFound(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

// pathPrefixes returns every ancestor of p including p, shortest first,
// preserving whether p is absolute.
func pathPrefixes(p string) []string {
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "/" {
		return nil
	}
	absolute := strings.HasPrefix(cleaned, "/")
	parts := strings.Split(strings.Trim(cleaned, "/"), "/")
	out := make([]string, 0, len(parts))
	current := ""
	if absolute {
		current = "/"
	}
	for _, part := range parts {
		current = path.Join(current, part)
		out = append(out, current)
	}
	return out
}
