package binding

import (
	"crypto/rand"
	"fmt"
)

const (
	// CodePrefix tags every bind code so it is recognisable in chat.
	CodePrefix = "GDRIVE-"

	codeLength = 5
	// Unambiguous characters: no 0/O or 1/I.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateCode returns a random code such as "GDRIVE-AB2CD".
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate bind code: %w", err)
	}
	// len(codeAlphabet) divides 256, so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return CodePrefix + string(buf), nil
}
