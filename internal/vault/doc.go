// Package vault seals destination configuration at rest.
//
// Plaintext is encrypted with XChaCha20-Poly1305 under a key derived from a
// 32-byte master key with HKDF-SHA256. Every blob carries a version byte and
// an 8-byte key id, both authenticated together with a caller-supplied
// context string:
//
//	[version 0x01][key id: 8][nonce: 24][ciphertext+tag]
//
// The key id is a BLAKE3 keyed digest of the master key, so a Vault holding
// previous keys can still open blobs sealed before a rotation while always
// sealing new blobs under the primary key. Decrypt never returns partial
// plaintext: any failure wraps ErrDecryptionFailed.
package vault
