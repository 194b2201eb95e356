package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 signature of the canonical request
// representation (method, path and raw body joined by newlines).
func Sign(secret []byte, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(method))
	mac.Write([]byte("\n"))
	mac.Write([]byte(path))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the expected HMAC in constant time.
func VerifySignature(secret []byte, method, path string, body []byte, signature string) bool {
	expected := Sign(secret, method, path, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
