package crypto

import (
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

// NewSalt returns a fresh random salt, base64-encoded for storage in the
// credentials record next to the hash.
func NewSalt() (string, error) {
	b, err := RandBytes(saltLen)
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// HashPassword returns the base64 Argon2id hash of password under salt.
func HashPassword(password, salt string) string {
	hash := argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(hash)
}

// VerifyPassword recomputes the hash and compares in constant time.
func VerifyPassword(password, salt, expectedHash string) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expectedHash)) == 1
}
