package remote

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"
)

// deadlineConn pushes the read or write deadline forward before every call,
// so a stalled peer fails after timeout instead of blocking forever.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// dialTCP connects with the configured connect timeout and wraps the result
// with the I/O deadline.
func dialTCP(ctx context.Context, addr string, opts Options) (net.Conn, error) {
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &deadlineConn{Conn: conn, timeout: opts.IOTimeout}, nil
}

// closeOnDone closes conn when ctx ends, unblocking any in-flight I/O. The
// returned stop func detaches the hook and must be called on session close.
func closeOnDone(ctx context.Context, conn net.Conn) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
}

// connSet tracks the open connections of a client library that dials on
// its own, such as FTP data connections, so cancellation can close all of
// them. A tracked connection leaves the set when it is closed.
type connSet struct {
	mu    sync.Mutex
	conns map[*trackedConn]struct{}
}

func (s *connSet) track(conn net.Conn) net.Conn {
	tc := &trackedConn{Conn: conn, set: s}
	s.mu.Lock()
	if s.conns == nil {
		s.conns = make(map[*trackedConn]struct{})
	}
	s.conns[tc] = struct{}{}
	s.mu.Unlock()
	return tc
}

func (s *connSet) forget(tc *trackedConn) {
	s.mu.Lock()
	delete(s.conns, tc)
	s.mu.Unlock()
}

func (s *connSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	open := make([]*trackedConn, 0, len(s.conns))
	for tc := range s.conns {
		open = append(open, tc)
	}
	s.mu.Unlock()
	for _, tc := range open {
		_ = tc.Close()
	}
}

type trackedConn struct {
	net.Conn
	set *connSet
}

func (c *trackedConn) Close() error {
	c.set.forget(c)
	return c.Conn.Close()
}

// newHTTPTransport bounds dialing and waiting for response headers. Body
// transfer is bounded by the request context.
func newHTTPTransport(opts Options) *http.Transport {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.IOTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// contextTransport attaches a session context to requests built by clients
// that have no context-aware API.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
