package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "v1:"

// Sealer protects secrets stored at rest (Patreon refresh tokens).
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

// Plaintext stores values as-is. Used when no key is configured.
type Plaintext struct{}

func (Plaintext) Seal(s string) (string, error) { return s, nil }

func (Plaintext) Open(s string) (string, error) {
	if strings.HasPrefix(s, sealedPrefix) {
		return "", errors.New("sealed value but no token key configured")
	}
	return s, nil
}

// XChaCha seals with XChaCha20-Poly1305. Output is "v1:" + base64url(nonce||ciphertext).
type XChaCha struct {
	key []byte
}

func NewXChaCha(key []byte) (*XChaCha, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &XChaCha{key: k}, nil
}

// ParseKey accepts a 32-byte key encoded as hex or base64 (std or url).
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty key")
	}
	if b, err := hex.DecodeString(raw); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(raw); err == nil && len(b) == chacha20poly1305.KeySize {
			return b, nil
		}
	}
	return nil, fmt.Errorf("key must decode to %d bytes (hex or base64)", chacha20poly1305.KeySize)
}

func (x *XChaCha) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(x.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value. Values without the prefix predate sealing and
// are returned unchanged.
func (x *XChaCha) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	aead, err := chacha20poly1305.NewX(x.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", errors.New("sealed value too short")
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(pt), nil
}
