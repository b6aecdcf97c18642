// Package vault encrypts per-tenant database credentials at rest.
//
// Values are sealed with AES-256-GCM under a key derived from the process secret
// with HKDF-SHA256. Each value carries its own random nonce:
//
//	base64(nonce || ciphertext || tag)
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

	"golang.org/x/crypto/hkdf"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
)

const keyInfo = "restaurant-ops/tenant-credentials/v1"

// Vault seals and opens stored credentials
type Vault struct {
	aead cipher.AEAD
}

// New derives the AES key from secret. An empty secret is a configuration error.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty encryption secret", domain.ErrVaultFailure)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", domain.ErrVaultFailure, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", domain.ErrVaultFailure, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: create GCM: %v", domain.ErrVaultFailure, err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh nonce
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", domain.ErrVaultFailure, err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. A wrong key or a tampered value
// returns ErrVaultFailure, never partial plaintext.
func (v *Vault) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrVaultFailure, err)
	}

	ns := v.aead.NonceSize()
	if len(sealed) < ns+v.aead.Overhead() {
		return "", fmt.Errorf("%w: %v", domain.ErrVaultFailure, errors.New("ciphertext too short"))
	}

	plaintext, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: open: %v", domain.ErrVaultFailure, err)
	}

	return string(plaintext), nil
}
