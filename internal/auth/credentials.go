package auth

import (
	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/crypto"
	"github.com/arkline/identity-api/internal/user"
)

// VerifyCredentials checks a password against the stored derived hash.
// Inactive accounts and incomplete credential records are rejected before
// the hash is even computed.
func VerifyCredentials(agg *user.Aggregate, password string) error {
	if agg.Status != user.StatusActive || agg.Credentials.Status != user.StatusActive {
		return apperr.Forbidden("user is not active")
	}
	if agg.Credentials.Hash == "" || agg.Credentials.Salt == "" {
		return apperr.Forbidden("user credentials are incomplete")
	}
	if !crypto.VerifyPassword(password, agg.Credentials.Salt, agg.Credentials.Hash) {
		return apperr.Unauthorized("invalid credentials")
	}
	return nil
}
