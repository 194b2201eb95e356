package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("per-user-hmac-secret")
	body := []byte(`{"firstName":"Jane"}`)

	sig := Sign(secret, "PUT", "/api/v1/users/abc", body)
	assert.True(t, VerifySignature(secret, "PUT", "/api/v1/users/abc", body, sig))
}

func TestVerifySignatureRejectsChangedRequest(t *testing.T) {
	secret := []byte("per-user-hmac-secret")
	body := []byte(`{"firstName":"Jane"}`)
	sig := Sign(secret, "PUT", "/api/v1/users/abc", body)

	assert.False(t, VerifySignature(secret, "POST", "/api/v1/users/abc", body, sig))
	assert.False(t, VerifySignature(secret, "PUT", "/api/v1/users/xyz", body, sig))
	assert.False(t, VerifySignature(secret, "PUT", "/api/v1/users/abc", []byte(`{}`), sig))
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"firstName":"Jane"}`)
	sig := Sign([]byte("secret-a"), "GET", "/health", body)

	assert.False(t, VerifySignature([]byte("secret-b"), "GET", "/health", body, sig))
}
