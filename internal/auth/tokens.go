// Package auth covers token issuance and the request authentication
// middleware chain: client resolution, payload signatures and bearer tokens.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/arkline/identity-api/internal/apperr"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// TokenPair is an access/refresh token issued together. Both carry the same
// subject; only their lifetimes and the refresh flag differ.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Claims are the registered claims plus role and a refresh marker.
type Claims struct {
	Role    string `json:"role"`
	Refresh bool   `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the HS256 token pair.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(secret []byte, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Issue mints a fresh pair for the given subject.
func (s *TokenService) Issue(userID uuid.UUID, role string) (*TokenPair, error) {
	now := time.Now()

	access, err := s.sign(userID, role, now, s.accessTTL, false)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(userID, role, now, s.refreshTTL, true)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) sign(userID uuid.UUID, role string, now time.Time, ttl time.Duration, refresh bool) (string, error) {
	claims := Claims{
		Role:    role,
		Refresh: refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token, checking signature and expiry.
func (s *TokenService) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, apperr.Unauthorized("token not valid")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apperr.Unauthorized("token not valid")
	}
	return claims, nil
}

// Subject extracts the subject identifier without requiring the token to be
// unexpired. The refresh flow compares subjects of a possibly expired access
// token against a still-live refresh token, so only the signature must hold.
func (s *TokenService) Subject(token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("token not valid")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return uuid.Nil, apperr.Unauthorized("token not valid")
	}
	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("token not valid")
	}
	return subject, nil
}
