package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"castdeploy/internal/destination"
	"castdeploy/internal/logging"
)

// SFTPAdapter writes over the SSH file transfer subsystem.
type SFTPAdapter struct {
	opts   Options
	logger *slog.Logger
}

// NewSFTPAdapter constructs the SFTP adapter.
func NewSFTPAdapter(opts Options, logger *slog.Logger) *SFTPAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SFTPAdapter{opts: opts, logger: logger}
}

func (a *SFTPAdapter) Mode() destination.Mode { return destination.ModeSFTP }

func (a *SFTPAdapter) Open(ctx context.Context, target Target) (Session, error) {
	cfg, ok := target.Config.(*destination.SFTPConfig)
	if !ok {
		return nil, fmt.Errorf("sftp adapter given %T", target.Config)
	}

	clientCfg, err := a.clientConfig(cfg, target.DestinationID)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := dialTCP(ctx, addr, a.opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := closeOnDone(ctx, conn)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		stop()
		_ = sshClient.Close()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	return &sftpSession{client: client, ssh: sshClient, stop: stop}, nil
}

func (a *SFTPAdapter) clientConfig(cfg *destination.SFTPConfig, destinationID string) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		var (
			signer ssh.Signer
			err    error
		)
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		}
		if err != nil {
			return nil, &destination.ConfigError{Mode: destination.ModeSFTP, Field: "private_key", Message: "cannot be parsed: " + err.Error()}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if cfg.HostKey != "" {
		pinned, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, &destination.ConfigError{Mode: destination.ModeSFTP, Field: "host_key", Message: "cannot be parsed: " + err.Error()}
		}
		hostKeyCallback = ssh.FixedHostKey(pinned)
	} else {
		// Unpinned keys are accepted; the fingerprint is logged so it can be pinned.
		hostKeyCallback = func(_ string, _ net.Addr, key ssh.PublicKey) error {
			a.logger.Warn("sftp host key not pinned",
				slog.String(logging.FieldDestinationID, destinationID),
				slog.String("host", cfg.Host),
				slog.String("fingerprint", ssh.FingerprintSHA256(key)),
			)
			return nil
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         a.opts.ConnectTimeout,
	}, nil
}

type sftpSession struct {
	client *sftp.Client
	ssh    *ssh.Client
	stop   func() bool
}

func (s *sftpSession) Get(_ context.Context, remotePath string) ([]byte, error) {
	f, err := s.client.Open(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", remotePath, fs.ErrNotExist)
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *sftpSession) Put(_ context.Context, remotePath string, data []byte) error {
	f, err := s.client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *sftpSession) MkdirAll(_ context.Context, remotePath string) error {
	return s.client.MkdirAll(remotePath)
}

func (s *sftpSession) Close() error {
	s.stop()
	err := s.client.Close()
	if sshErr := s.ssh.Close(); err == nil && sshErr != nil && !errors.Is(sshErr, net.ErrClosed) {
		err = sshErr
	}
	return err
}
