// Package crypto protects refresh tokens at rest.
package crypto

import (
	"context"
	"errors"
)

// ErrDecryption is returned for tampered, truncated, or foreign ciphertexts.
var ErrDecryption = errors.New("decryption failed")

// Encryptor defines the interface for encryption and decryption.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}
