package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"castdeploy/internal/config"
	"castdeploy/internal/fileutil"
)

// ErrKeyFileExists is returned by GenerateKeyFile when the target exists and
// overwrite is false.
var ErrKeyFileExists = errors.New("key file already exists")

// GenerateKey returns a new random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EncodeKey renders a master key in key-file form.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses base64 key material and checks its length.
func DecodeKey(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, errors.New("key material is empty")
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// LoadKey reads a base64 key file.
func LoadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := DecodeKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return key, nil
}

// GenerateKeyFile writes a new key to path with mode 0600 and returns it.
func GenerateKeyFile(path string, overwrite bool) ([]byte, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	payload := []byte(EncodeKey(key) + "\n")
	if overwrite {
		err = fileutil.WriteFileAtomic(path, payload, 0o600)
	} else {
		err = fileutil.CreateFileAtomic(path, payload, 0o600)
	}
	if err != nil {
		if errors.Is(err, fileutil.ErrExists) {
			return nil, fmt.Errorf("%s: %w", path, ErrKeyFileExists)
		}
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// FromConfig builds the process-wide Vault. The CASTDEPLOY_VAULT_KEY value
// captured in cfg.Vault.Key takes precedence over vault.key_file.
func FromConfig(cfg *config.Config) (*Vault, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	var (
		primary []byte
		err     error
	)
	if cfg.Vault.Key != "" {
		primary, err = DecodeKey(cfg.Vault.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.VaultKeyEnv, err)
		}
	} else {
		primary, err = LoadKey(cfg.Vault.KeyFile)
		if err != nil {
			return nil, err
		}
	}

	previous := make([][]byte, 0, len(cfg.Vault.PreviousKeyFiles))
	for _, path := range cfg.Vault.PreviousKeyFiles {
		key, err := LoadKey(path)
		if err != nil {
			return nil, fmt.Errorf("previous key: %w", err)
		}
		previous = append(previous, key)
	}
	return New(primary, previous...)
}
