// Package user holds the identity aggregate, its relational repository and
// the cached projection that serves all read paths.
package user

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status of an aggregate. The only legal transitions are INACTIVE -> ACTIVE
// (email verification) and ACTIVE -> INACTIVE (deactivation).
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Aggregate is the full denormalized user: the identity row plus its four
// 1:1 satellite records, treated as one consistency unit. The same shape is
// serialized to JSON as the cache projection.
type Aggregate struct {
	Identifier    uuid.UUID     `json:"identifier"`
	FirstName     string        `json:"firstName"`
	LastName      string        `json:"lastName"`
	ClientID      uuid.UUID     `json:"clientId"`
	Role          string        `json:"role"`
	Status        Status        `json:"status"`
	Version       int64         `json:"version"`
	Communication Communication `json:"communication"`
	Credentials   Credentials   `json:"credentials"`
	Keys          Keys          `json:"keys"`
	Settings      Settings      `json:"settings"`
}

type Communication struct {
	Identifier uuid.UUID `json:"identifier"`
	Email      string    `json:"email"`
	MobileNo   string    `json:"mobileNo"`
	Status     Status    `json:"status"`
}

type Credentials struct {
	Identifier uuid.UUID `json:"identifier"`
	Username   string    `json:"username"`
	Hash       string    `json:"hash"`
	Salt       string    `json:"salt"`
	Status     Status    `json:"status"`
}

type Keys struct {
	Identifier            uuid.UUID  `json:"identifier"`
	AesSecretKey          string     `json:"aesSecretKey"`
	HmacSecretKey         string     `json:"hmacSecretKey"`
	RefreshToken          string     `json:"refreshToken"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt"`
	Status                Status     `json:"status"`
}

type Settings struct {
	Identifier                      uuid.UUID  `json:"identifier"`
	EmailVerificationToken          *uuid.UUID `json:"emailVerificationToken"`
	EmailVerificationTokenExpiresAt *time.Time `json:"emailVerificationTokenExpiresAt"`
	IsEmailVerified                 bool       `json:"isEmailVerified"`
	IsVerificationEmailSent         bool       `json:"isVerificationEmailSent"`
	IsWelcomeEmailSent              bool       `json:"isWelcomeEmailSent"`
	Status                          Status     `json:"status"`
}

// FullName joins first and last name for notification payloads.
func (a *Aggregate) FullName() string {
	return a.FirstName + " " + a.LastName
}

// ProfileUpdate carries the mutable profile fields. Username mirrors email.
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Email     string
	MobileNo  string
}

// VerificationClaim is the settings lookup result for a submitted
// email-verification token.
type VerificationClaim struct {
	UserID    uuid.UUID
	Token     uuid.UUID
	ExpiresAt time.Time
}

// Page is a pagination request for the admin listing.
type Page struct {
	Number int
	Size   int
}

// Ops are the transaction-scoped write operations on an aggregate. Every
// method sees uncommitted state of the surrounding transaction, so the
// coordinator can rebuild the projection from post-write state before commit.
type Ops interface {
	Get(ctx context.Context, id uuid.UUID) (*Aggregate, error)
	Create(ctx context.Context, agg *Aggregate) error
	SetRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	SetProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) error
	SetStatusAll(ctx context.Context, id uuid.UUID, status Status) error
	ConsumeVerification(ctx context.Context, id uuid.UUID) error
	ReissueVerification(ctx context.Context, id uuid.UUID, token uuid.UUID, expiresAt time.Time) error
	BumpVersion(ctx context.Context, id uuid.UUID) error
}
