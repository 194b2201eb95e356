// Package crypto implements the payload envelope codec, request signing
// and password hashing primitives.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// KeyLen is the AES-256 key length. Per-user keys are stored as 32-character
// strings so the raw bytes of the string are the key.
const KeyLen = 32

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSecretKey generates a fresh per-user AES key encoded as a
// 32-character hex string.
func NewSecretKey() (string, error) {
	b, err := RandBytes(KeyLen / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// EncryptPayload serializes v to JSON and seals it with AES-256-GCM under
// key, returning base64(nonce || ciphertext) for the envelope body.
func EncryptPayload(key []byte, v any) (string, error) {
	if len(key) != KeyLen {
		return "", fmt.Errorf("encryption key must be %d bytes, got %d", KeyLen, len(key))
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce, err := RandBytes(aead.NonceSize())
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptPayload opens a base64(nonce || ciphertext) envelope body with key
// and unmarshals the plaintext JSON into v.
func DecryptPayload(key []byte, body string, v any) error {
	if len(key) != KeyLen {
		return fmt.Errorf("encryption key must be %d bytes, got %d", KeyLen, len(key))
	}

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return fmt.Errorf("decode envelope body: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	if len(raw) < aead.NonceSize() {
		return ErrCiphertextTooShort
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("open envelope body: %w", err)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
