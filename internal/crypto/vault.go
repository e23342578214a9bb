package crypto

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const vaultKeyInfo = "gdrivebot/refresh-token-vault/v1"

// AEADVault implements Encryptor with XChaCha20-Poly1305 under a key derived
// from a process-wide secret. Ciphertexts are base64url(nonce || sealed).
type AEADVault struct {
	aead cipher.AEAD
}

// NewAEADVault derives the vault key from secret with HKDF-SHA256.
func NewAEADVault(secret string) (*AEADVault, error) {
	if secret == "" {
		return nil, errors.New("crypto: token encryption key is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(vaultKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init aead: %w", err)
	}
	return &AEADVault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *AEADVault) Encrypt(_ context.Context, plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (v *AEADVault) Decrypt(_ context.Context, ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrDecryption, err)
	}
	if len(raw) < v.aead.NonceSize()+v.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}
