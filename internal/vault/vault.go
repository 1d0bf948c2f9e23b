// Package vault encrypts and decrypts per-channel API credentials at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors surfaced by Encrypt and Decrypt.
var (
	ErrKeyMissing        = errors.New("vault: no encryption key configured")
	ErrCorruptCiphertext = errors.New("vault: ciphertext failed authentication")
)

// Vault performs authenticated symmetric encryption with a process-wide key.
// The key is derived once at construction and is read-only afterwards.
// Decrypted values must never be persisted or logged.
type Vault struct {
	aead cipher.AEAD
}

// New derives an AES-256-GCM key from the secret. An empty secret yields a
// Vault whose operations fail with ErrKeyMissing, so a missing key surfaces
// at send time rather than at startup.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return &Vault{}, nil
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns a base64 blob of nonce||ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v.aead == nil {
		return "", ErrKeyMissing
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. A blob that cannot be decoded
// or authenticated yields ErrCorruptCiphertext.
func (v *Vault) Decrypt(blob string) (string, error) {
	if v.aead == nil {
		return "", ErrKeyMissing
	}
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrCorruptCiphertext
	}
	if len(sealed) < v.aead.NonceSize() {
		return "", ErrCorruptCiphertext
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrCorruptCiphertext
	}
	return string(plaintext), nil
}
