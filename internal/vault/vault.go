package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of a master key.
const KeySize = 32

// KeyIDSize is the size in bytes of the key id embedded in every blob.
const KeyIDSize = 8

// BlobVersion is the format version byte prepended to sealed blobs.
const BlobVersion byte = 0x01

// BlobOverhead is the fixed per-blob overhead: version, key id, nonce, tag.
const BlobOverhead = 1 + KeyIDSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ContextDestinationConfig binds blobs to the destination-config domain.
const ContextDestinationConfig = "castdeploy/destination-config"

var (
	hkdfInfoEncryption = []byte("castdeploy.vault.v1")
	keyIDDomain        = []byte("castdeploy.vault.keyid.v1")
)

// ErrDecryptionFailed is wrapped by every Decrypt failure.
var ErrDecryptionFailed = errors.New("decryption failed")

type sealingKey struct {
	id  [KeyIDSize]byte
	key []byte
}

// Vault encrypts with a primary key and decrypts with the primary or any
// previous key. It is safe for concurrent use; keys are immutable after New.
type Vault struct {
	primary sealingKey
	byID    map[[KeyIDSize]byte]sealingKey
}

// New builds a Vault from raw master keys.
func New(primary []byte, previous ...[]byte) (*Vault, error) {
	p, err := newSealingKey(primary)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	v := &Vault{
		primary: p,
		byID:    map[[KeyIDSize]byte]sealingKey{p.id: p},
	}
	for i, raw := range previous {
		k, err := newSealingKey(raw)
		if err != nil {
			return nil, fmt.Errorf("previous key %d: %w", i, err)
		}
		if _, dup := v.byID[k.id]; dup {
			continue
		}
		v.byID[k.id] = k
	}
	return v, nil
}

func newSealingKey(master []byte) (sealingKey, error) {
	if len(master) != KeySize {
		return sealingKey{}, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(master))
	}
	reader := hkdf.New(sha256.New, master, nil, hkdfInfoEncryption)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return sealingKey{}, fmt.Errorf("derive key: %w", err)
	}
	return sealingKey{id: deriveKeyID(master), key: derived}, nil
}

func deriveKeyID(master []byte) [KeyIDSize]byte {
	hasher, err := blake3.NewKeyed(master)
	if err != nil {
		panic("vault: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(keyIDDomain)
	var id [KeyIDSize]byte
	copy(id[:], hasher.Sum(nil))
	return id
}

// KeyID returns the hex id of the primary key.
func (v *Vault) KeyID() string {
	return hex.EncodeToString(v.primary.id[:])
}

// Encrypt seals plaintext under the primary key, bound to context.
func (v *Vault) Encrypt(plaintext []byte, context string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.primary.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	header := 1 + KeyIDSize + len(nonce)
	out := make([]byte, header, header+len(plaintext)+aead.Overhead())
	out[0] = BlobVersion
	copy(out[1:], v.primary.id[:])
	copy(out[1+KeyIDSize:], nonce[:])

	return aead.Seal(out, nonce[:], plaintext, buildAAD(BlobVersion, v.primary.id, context)), nil
}

// Decrypt opens a blob produced by Encrypt with the same context.
func (v *Vault) Decrypt(blob []byte, context string) ([]byte, error) {
	if len(blob) < BlobOverhead {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecryptionFailed, len(blob), BlobOverhead)
	}
	if blob[0] != BlobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecryptionFailed, blob[0])
	}
	var id [KeyIDSize]byte
	copy(id[:], blob[1:1+KeyIDSize])
	key, ok := v.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %s", ErrDecryptionFailed, hex.EncodeToString(id[:]))
	}

	aead, err := chacha20poly1305.NewX(key.key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", ErrDecryptionFailed, err)
	}
	nonceStart := 1 + KeyIDSize
	nonce := blob[nonceStart : nonceStart+chacha20poly1305.NonceSizeX]
	ciphertext := blob[nonceStart+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(blob[0], id, context))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key, tampered data, or mismatched context", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// NeedsRekey reports whether blob was sealed under a key other than the
// primary. Malformed blobs report true so a rekey pass surfaces them.
func (v *Vault) NeedsRekey(blob []byte) bool {
	if len(blob) < 1+KeyIDSize || blob[0] != BlobVersion {
		return true
	}
	return !bytes.Equal(blob[1:1+KeyIDSize], v.primary.id[:])
}

func buildAAD(version byte, id [KeyIDSize]byte, context string) []byte {
	aad := make([]byte, 0, 1+KeyIDSize+len(context))
	aad = append(aad, version)
	aad = append(aad, id[:]...)
	return append(aad, context...)
}
