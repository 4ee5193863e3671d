// Package vault encrypts tenant OAuth secrets at rest. A single
// symmetric key is derived from a configured secret; the vault is
// constructed explicitly and injected so tests can hold isolated keys.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryptFailed indicates tampered ciphertext or a key mismatch.
var ErrDecryptFailed = errors.New("vault: decryption failed")

const (
	keyLength  = 32
	iterations = 100_000
)

// keySalt is fixed per installation; rotating it invalidates every
// stored ciphertext.
var keySalt = []byte("fiksisync-credential-salt")

// Vault performs symmetric encryption of credential strings.
type Vault struct {
	aead cipher.AEAD
}

// New derives an AES-256-GCM key from the secret via PBKDF2-SHA256.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: secret is required")
	}

	key := pbkdf2.Key([]byte(secret), keySalt, iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals a plaintext credential, returning base64 text safe for
// column storage. Empty input round-trips as empty.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered input or a
// different key yields ErrDecryptFailed.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < v.aead.NonceSize() {
		return "", ErrDecryptFailed
	}

	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}
