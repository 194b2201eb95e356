package identity

import (
	"github.com/google/uuid"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/arkline/identity-api/internal/auth"
	"github.com/arkline/identity-api/internal/user"
)

// Envelope is the encrypted wire body. Every payload-bearing endpoint
// exchanges this shape; Body holds the base64 AES-GCM ciphertext.
type Envelope struct {
	Body string `json:"body"`
}

func (e Envelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Body, validation.Required),
	)
}

type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	MobileNo  string `json:"mobileNo"`
	Password  string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.MobileNo, validation.Length(0, 20)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
	)
}

type SignInRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

func (r SignInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserName, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type RefreshRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccessToken, validation.Required),
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

type UpdateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	MobileNo  string `json:"mobileNo"`
}

func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.MobileNo, validation.Length(0, 20)),
	)
}

// KeyMaterial is handed out once at sign-in; the client keeps it for
// payload encryption and request signing.
type KeyMaterial struct {
	Aes  string `json:"aes"`
	Hmac string `json:"hmac"`
}

type SignInResponse struct {
	Identifier uuid.UUID      `json:"identifier"`
	ClientID   uuid.UUID      `json:"clientId"`
	Email      string         `json:"email"`
	UserName   string         `json:"userName"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	FullName   string         `json:"fullName"`
	Tokens     auth.TokenPair `json:"tokens"`
	Keys       KeyMaterial    `json:"keys"`
}

// UserView is the sanitized aggregate: no credentials, no key material,
// no refresh token.
type UserView struct {
	Identifier      uuid.UUID   `json:"identifier"`
	ClientID        uuid.UUID   `json:"clientId"`
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	FullName        string      `json:"fullName"`
	Email           string      `json:"email"`
	MobileNo        string      `json:"mobileNo"`
	Status          user.Status `json:"status"`
	Role            string      `json:"role"`
	IsEmailVerified bool        `json:"isEmailVerified"`
	Version         int64       `json:"version"`
}

func viewOf(agg *user.Aggregate) *UserView {
	return &UserView{
		Identifier:      agg.Identifier,
		ClientID:        agg.ClientID,
		FirstName:       agg.FirstName,
		LastName:        agg.LastName,
		FullName:        agg.FullName(),
		Email:           agg.Communication.Email,
		MobileNo:        agg.Communication.MobileNo,
		Status:          agg.Status,
		Role:            agg.Role,
		IsEmailVerified: agg.Settings.IsEmailVerified,
		Version:         agg.Version,
	}
}

type ListResponse struct {
	Users []*UserView `json:"users"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}

// MessageResponse carries outcome text for flows without a data payload.
type MessageResponse struct {
	Message string `json:"message"`
}
