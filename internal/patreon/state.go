package patreon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// stateSep is outside the base64url alphabet.
const stateSep = "."

// StatePayload is round-tripped through the provider's authorize redirect.
type StatePayload struct {
	UserID     string `json:"userId"`
	RedirectTo string `json:"redirectTo"`
	IssuedAt   int64  `json:"iat,omitempty"`
}

// Age returns how long ago the payload was issued, or zero when unknown.
func (p StatePayload) Age(now time.Time) time.Duration {
	if p.IssuedAt == 0 {
		return 0
	}
	return now.Sub(time.Unix(p.IssuedAt, 0))
}

// StateCodec signs and verifies state tokens with HMAC-SHA256.
type StateCodec struct {
	secret []byte
}

func NewStateCodec(secret []byte) (*StateCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("patreon: empty state secret")
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &StateCodec{secret: s}, nil
}

// Encode returns base64url(json(payload)) + "." + base64url(hmac).
func (c *StateCodec) Encode(p StatePayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + stateSep + c.sign(encoded), nil
}

// Decode verifies token and returns its payload. ok is false for any
// malformed, tampered or incomplete token; Decode never panics on input.
func (c *StateCodec) Decode(token string) (StatePayload, bool) {
	encoded, sig, found := strings.Cut(token, stateSep)
	if !found || encoded == "" || sig == "" || strings.Contains(sig, stateSep) {
		return StatePayload{}, false
	}
	expected := c.sign(encoded)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return StatePayload{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return StatePayload{}, false
	}
	var p StatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return StatePayload{}, false
	}
	if p.UserID == "" || p.RedirectTo == "" {
		return StatePayload{}, false
	}
	return p, true
}

func (c *StateCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
