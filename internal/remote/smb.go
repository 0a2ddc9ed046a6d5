package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"

	"github.com/hirochachacha/go-smb2"

	"castdeploy/internal/destination"
)

// NTSTATUS values that mean the path is absent.
const (
	statusObjectNameNotFound uint32 = 0xC0000034
	statusObjectPathNotFound uint32 = 0xC000003A
)

// SMBAdapter writes to an SMB2/3 share with NTLM authentication.
type SMBAdapter struct {
	opts Options
}

// NewSMBAdapter constructs the SMB adapter.
func NewSMBAdapter(opts Options) *SMBAdapter {
	return &SMBAdapter{opts: opts}
}

func (a *SMBAdapter) Mode() destination.Mode { return destination.ModeSMB }

func (a *SMBAdapter) Open(ctx context.Context, target Target) (Session, error) {
	cfg, ok := target.Config.(*destination.SMBConfig)
	if !ok {
		return nil, fmt.Errorf("smb adapter given %T", target.Config)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := dialTCP(ctx, addr, a.opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := closeOnDone(ctx, conn)

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     cfg.Username,
			Password: cfg.Password,
			Domain:   cfg.Domain,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, fmt.Errorf("smb negotiate: %w", err)
	}

	share, err := session.WithContext(ctx).Mount(fmt.Sprintf(`\\%s\%s`, cfg.Host, cfg.Share))
	if err != nil {
		stop()
		_ = session.Logoff()
		return nil, fmt.Errorf("mount %s: %w", cfg.Share, err)
	}
	return &smbSession{session: session, share: share.WithContext(ctx), stop: stop}, nil
}

type smbSession struct {
	session *smb2.Session
	share   *smb2.Share
	stop    func() bool
}

func (s *smbSession) Get(_ context.Context, remotePath string) ([]byte, error) {
	data, err := s.share.ReadFile(remotePath)
	if err != nil {
		if isSMBNotFound(err) {
			return nil, fmt.Errorf("%s: %w", remotePath, fs.ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

func (s *smbSession) Put(_ context.Context, remotePath string, data []byte) error {
	return s.share.WriteFile(remotePath, data, 0o644)
}

func (s *smbSession) MkdirAll(_ context.Context, remotePath string) error {
	return s.share.MkdirAll(remotePath, 0o755)
}

func (s *smbSession) Close() error {
	s.stop()
	err := s.share.Umount()
	if logoffErr := s.session.Logoff(); err == nil {
		err = logoffErr
	}
	return err
}

func isSMBNotFound(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var respErr *smb2.ResponseError
	if errors.As(err, &respErr) {
		return respErr.Code == statusObjectNameNotFound || respErr.Code == statusObjectPathNotFound
	}
	return false
}
