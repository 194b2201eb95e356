package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the aggregate root row. The four satellite records below are 1:1
// with it and share its lifecycle; status is mirrored across all five so a
// verification or deactivation flips the whole aggregate.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	Identifier   uuid.UUID `bun:"identifier,pk,type:uuid"`
	FirstName    string    `bun:"first_name,notnull"`
	LastName     string    `bun:"last_name,notnull"`
	ClientID     uuid.UUID `bun:"client_id,notnull,type:uuid"`
	Role         string    `bun:"role,notnull,default:'USER'"`
	Status       string    `bun:"status,notnull"`
	Version      int64     `bun:"version,notnull,default:0"`
	CreatedDate  time.Time `bun:"created_date,nullzero,notnull,default:current_timestamp"`
	ModifiedDate time.Time `bun:"modified_date,nullzero,notnull,default:current_timestamp"`
}

type UserCommunication struct {
	bun.BaseModel `bun:"table:user_communications,alias:uc"`

	Identifier uuid.UUID `bun:"identifier,pk,type:uuid"`
	UserID     uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Email      string    `bun:"email,notnull,unique"`
	MobileNo   string    `bun:"mobile_no"`
	Status     string    `bun:"status,notnull"`
}

type UserCredentials struct {
	bun.BaseModel `bun:"table:user_credentials,alias:ucr"`

	Identifier uuid.UUID `bun:"identifier,pk,type:uuid"`
	UserID     uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Username   string    `bun:"username,notnull"`
	Hash       string    `bun:"hash,notnull"`
	Salt       string    `bun:"salt,notnull"`
	Status     string    `bun:"status,notnull"`
}

type UserKeys struct {
	bun.BaseModel `bun:"table:user_keys,alias:uk"`

	Identifier            uuid.UUID  `bun:"identifier,pk,type:uuid"`
	UserID                uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	AesSecretKey          string     `bun:"aes_secret_key,notnull"`
	HmacSecretKey         string     `bun:"hmac_secret_key,notnull"`
	RefreshToken          string     `bun:"refresh_token"`
	RefreshTokenExpiresAt *time.Time `bun:"refresh_token_expires_at,nullzero"`
	Status                string     `bun:"status,notnull"`
}

type UserSettings struct {
	bun.BaseModel `bun:"table:user_settings,alias:us"`

	Identifier                      uuid.UUID  `bun:"identifier,pk,type:uuid"`
	UserID                          uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	EmailVerificationToken          *uuid.UUID `bun:"email_verification_token,nullzero,type:uuid"`
	EmailVerificationTokenExpiresAt *time.Time `bun:"email_verification_token_expires_at,nullzero"`
	IsEmailVerified                 bool       `bun:"is_email_verified,notnull,default:false"`
	IsVerificationEmailSent         bool       `bun:"is_verification_email_sent,notnull,default:false"`
	IsWelcomeEmailSent              bool       `bun:"is_welcome_email_sent,notnull,default:false"`
	Status                          string     `bun:"status,notnull"`
}
