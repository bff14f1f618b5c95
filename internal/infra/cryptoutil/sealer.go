package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Sealer protects stored decryption keys at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

const (
	prefixV1   = "v1:"
	prefixNoop = "noop:"
)

// NewSealer returns an AES-256-GCM sealer keyed from secret, or a noop sealer
// when secret is empty. A 64 character hex secret is used as the raw key;
// anything else is hashed with sha256.
func NewSealer(secret string) (Sealer, error) {
	if secret == "" {
		return NoopSealer{}, nil
	}

	key, err := hex.DecodeString(secret)
	if err != nil || len(key) != 32 {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return &gcmSealer{aead: gcm}, nil
}

type gcmSealer struct {
	aead cipher.AEAD
}

func (s *gcmSealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefixV1 + base64.StdEncoding.EncodeToString(out), nil
}

func (s *gcmSealer) Open(sealed string) (string, error) {
	if strings.HasPrefix(sealed, prefixNoop) {
		return NoopSealer{}.Open(sealed)
	}

	b64, ok := strings.CutPrefix(sealed, prefixV1)
	if !ok {
		return "", errors.New("unknown sealed key version")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode sealed key: %w", err)
	}

	n := s.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("sealed key too short")
	}
	pt, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed key: %w", err)
	}

	return string(pt), nil
}

// NoopSealer keeps keys readable. Used when no key secret is configured.
type NoopSealer struct{}

func (NoopSealer) Seal(plaintext string) (string, error) {
	return prefixNoop + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (NoopSealer) Open(sealed string) (string, error) {
	b64, ok := strings.CutPrefix(sealed, prefixNoop)
	if !ok {
		return "", errors.New("sealed key requires a key secret")
	}
	pt, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode sealed key: %w", err)
	}
	return string(pt), nil
}
