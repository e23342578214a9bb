// Package state signs and verifies the opaque OAuth state parameter that carries
// bind context through the identity provider redirect.
package state

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidState is returned for malformed tokens and signature mismatches.
	ErrInvalidState = errors.New("invalid state")
	// ErrStateExpired is returned when exp is missing, not an integer, or in the past.
	ErrStateExpired = errors.New("state expired")
)

var (
	encoding       = base64.RawURLEncoding
	strictEncoding = base64.RawURLEncoding.Strict()
	signingMethod  = jwt.SigningMethodHS256
)

// Payload is the bind context embedded in a state token.
type Payload struct {
	GroupID   string `json:"group_id"`
	Requester string `json:"requester"`
	Code      string `json:"code"`
	Nonce     string `json:"nonce"`
	Exp       int64  `json:"exp"`
}

// Codec produces tokens of the form base64url(json) "." base64url(hmac-sha256).
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec creates a Codec keyed with secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("state: signing key is required")
	}
	return &Codec{key: secret, now: time.Now}, nil
}

// WithClock returns a copy of the codec that reads the time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Sign serializes and signs p.
func (c *Codec) Sign(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("state: marshal payload: %w", err)
	}
	body := encoding.EncodeToString(raw)
	sig, err := signingMethod.Sign(body, c.key)
	if err != nil {
		return "", fmt.Errorf("state: sign: %w", err)
	}
	return body + "." + encoding.EncodeToString(sig), nil
}

// Verify checks the signature in constant time, then the expiry, and returns the payload.
func (c *Codec) Verify(token string) (Payload, error) {
	body, sigPart, ok := strings.Cut(token, ".")
	if !ok || body == "" || sigPart == "" {
		return Payload{}, ErrInvalidState
	}
	sig, err := strictEncoding.DecodeString(sigPart)
	if err != nil {
		return Payload{}, ErrInvalidState
	}
	if err := signingMethod.Verify(body, sig, c.key); err != nil {
		return Payload{}, ErrInvalidState
	}

	raw, err := strictEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, ErrInvalidState
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Payload{}, ErrInvalidState
	}

	expRaw, ok := fields["exp"]
	if !ok {
		return Payload{}, ErrStateExpired
	}
	var exp int64
	if err := json.Unmarshal(expRaw, &exp); err != nil {
		return Payload{}, ErrStateExpired
	}
	if c.now().Unix() > exp {
		return Payload{}, ErrStateExpired
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, ErrInvalidState
	}
	return p, nil
}
