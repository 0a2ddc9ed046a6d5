package testsupport

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPServer is a loopback SSH server exposing the sftp subsystem over the
// local filesystem.
type SFTPServer struct {
	Host string
	Port int
	// HostKey is the server public key in authorized_keys format.
	HostKey string
}

// StartSFTPServer accepts one username and password and stops when the test
// ends.
func StartSFTPServer(t testing.TB, user, password string) SFTPServer {
	t.Helper()

	signer := NewSSHSigner(t)
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return SFTPServer{
		Host:    addr.IP.String(),
		Port:    addr.Port,
		HostKey: string(ssh.MarshalAuthorizedKey(signer.PublicKey())),
	}
}

// NewSSHSigner returns a fresh ed25519 signer.
func NewSSHSigner(t testing.TB) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				// Payload is an SSH string: uint32 length then the name.
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
				if !ok {
					continue
				}
				go func() {
					defer channel.Close()
					server, err := sftp.NewServer(channel)
					if err != nil {
						return
					}
					_ = server.Serve()
					_ = server.Close()
				}()
			}
		}()
	}
}
