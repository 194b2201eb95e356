// Package identity implements the account lifecycle: registration, sign-in,
// token refresh, email verification, profile updates and deactivation.
package identity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/auth"
	"github.com/arkline/identity-api/internal/crypto"
	"github.com/arkline/identity-api/internal/logging"
	"github.com/arkline/identity-api/internal/user"
)

const (
	// JobVerificationEmail asks the worker to deliver the verification link.
	JobVerificationEmail = "verification-email"
	// JobWelcomeEmail follows a successful verification.
	JobWelcomeEmail = "welcome-email"
)

// VerificationEmailJob is the queue payload for a verification mail.
type VerificationEmailJob struct {
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	Token    uuid.UUID `json:"token"`
}

// WelcomeEmailJob is the queue payload for a welcome mail.
type WelcomeEmailJob struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// UserStore is the relational side of the aggregate.
type UserStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, ops user.Ops) error) error
	LookupVerificationToken(ctx context.Context, token uuid.UUID) (*user.VerificationClaim, error)
	ListUsers(ctx context.Context, page user.Page) ([]*user.Aggregate, int, error)
}

// UserCache is the read side. All single-user lookups go through it.
type UserCache interface {
	GetByIdentifier(ctx context.Context, id uuid.UUID) (*user.Aggregate, error)
	GetByEmail(ctx context.Context, email string) (*user.Aggregate, error)
	GetByClientID(ctx context.Context, clientID uuid.UUID) (*user.Aggregate, error)
}

// Syncer aligns the cached projection with transactional writes.
type Syncer interface {
	Sync(ctx context.Context, ops user.Ops, id uuid.UUID) (*user.Aggregate, error)
	Restore(ctx context.Context, agg *user.Aggregate)
	DropEmail(ctx context.Context, email string)
}

// TokenIssuer mints and introspects the token pair.
type TokenIssuer interface {
	Issue(userID uuid.UUID, role string) (*auth.TokenPair, error)
	Subject(token string) (uuid.UUID, error)
}

// Enqueuer hands a named job to the notification queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

// Service wires the account flows together. Every mutation runs inside a
// store transaction with the projection synced before commit; a failed
// commit triggers cache compensation.
type Service struct {
	store       UserStore
	cache       UserCache
	coordinator Syncer
	tokens      TokenIssuer
	jobs        Enqueuer

	refreshTTL      time.Duration
	verificationTTL time.Duration
}

func NewService(store UserStore, cache UserCache, coordinator Syncer, tokens TokenIssuer, jobs Enqueuer, refreshTTL time.Duration) *Service {
	return &Service{
		store:           store,
		cache:           cache,
		coordinator:     coordinator,
		tokens:          tokens,
		jobs:            jobs,
		refreshTTL:      refreshTTL,
		verificationTTL: 24 * time.Hour,
	}
}

// mutate runs fn in a transaction, syncs the projection as its last step and
// compensates the cache if the commit is lost. It returns the synced
// aggregate on success.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, ops user.Ops) error) (*user.Aggregate, error) {
	var synced *user.Aggregate
	err := s.store.InTx(ctx, func(ctx context.Context, ops user.Ops) error {
		if err := fn(ctx, ops); err != nil {
			return err
		}
		agg, err := s.coordinator.Sync(ctx, ops, id)
		synced = agg
		return err
	})
	if err != nil {
		s.coordinator.Restore(ctx, synced)
		return nil, err
	}
	return synced, nil
}

// Register creates an inactive aggregate with fresh key material and a
// 24 hour verification token, then queues the verification email.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*UserView, error) {
	if _, err := s.cache.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperr.BadRequest("user already exists")
	} else if !apperr.IsStatus(err, http.StatusNotFound) {
		return nil, err
	}

	aesKey, err := crypto.NewSecretKey()
	if err != nil {
		return nil, err
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	token := uuid.New()
	tokenExpiry := time.Now().UTC().Add(s.verificationTTL)

	agg := &user.Aggregate{
		Identifier: id,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		ClientID:   uuid.New(),
		Role:       auth.RoleUser,
		Status:     user.StatusInactive,
		Communication: user.Communication{
			Identifier: uuid.New(),
			Email:      req.Email,
			MobileNo:   req.MobileNo,
			Status:     user.StatusInactive,
		},
		Credentials: user.Credentials{
			Identifier: uuid.New(),
			Username:   req.Email,
			Hash:       crypto.HashPassword(req.Password, salt),
			Salt:       salt,
			Status:     user.StatusInactive,
		},
		Keys: user.Keys{
			Identifier:    uuid.New(),
			AesSecretKey:  aesKey,
			HmacSecretKey: uuid.NewString(),
			Status:        user.StatusInactive,
		},
		Settings: user.Settings{
			Identifier:                      uuid.New(),
			EmailVerificationToken:          &token,
			EmailVerificationTokenExpiresAt: &tokenExpiry,
			IsVerificationEmailSent:         true,
			Status:                          user.StatusInactive,
		},
	}

	created, err := s.mutate(ctx, id, func(ctx context.Context, ops user.Ops) error {
		return ops.Create(ctx, agg)
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(ctx, JobVerificationEmail, VerificationEmailJob{
		Email:    created.Communication.Email,
		FullName: created.FullName(),
		Token:    token,
	})

	return viewOf(created), nil
}

// SignIn authenticates a username/password pair, rotates the persisted
// refresh token and returns the client's key material alongside the tokens.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	agg, err := s.cache.GetByEmail(ctx, req.UserName)
	if err != nil {
		if apperr.IsStatus(err, http.StatusNotFound) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, err
	}

	if err := auth.VerifyCredentials(agg, req.Password); err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(agg.Identifier, agg.Role)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(s.refreshTTL)
	signed, err := s.mutate(ctx, agg.Identifier, func(ctx context.Context, ops user.Ops) error {
		if err := ops.SetRefreshToken(ctx, agg.Identifier, pair.RefreshToken, expiresAt); err != nil {
			return err
		}
		return ops.BumpVersion(ctx, agg.Identifier)
	})
	if err != nil {
		return nil, err
	}

	return &SignInResponse{
		Identifier: signed.Identifier,
		ClientID:   signed.ClientID,
		Email:      signed.Communication.Email,
		UserName:   signed.Credentials.Username,
		FirstName:  signed.FirstName,
		LastName:   signed.LastName,
		FullName:   signed.FullName(),
		Tokens:     *pair,
		Keys: KeyMaterial{
			Aes:  signed.Keys.AesSecretKey,
			Hmac: signed.Keys.HmacSecretKey,
		},
	}, nil
}

// Refresh exchanges a valid access/refresh pair for a new one. The presented
// refresh token must match the persisted one, be unexpired by the persisted
// expiry, and both tokens must name the resolved client as subject. The old
// refresh token dies with the rotation.
func (s *Service) Refresh(ctx context.Context, client *user.Aggregate, req RefreshRequest) (*auth.TokenPair, error) {
	if client.Keys.RefreshToken == "" || req.RefreshToken != client.Keys.RefreshToken {
		return nil, apperr.Unauthorized("token not valid")
	}
	if client.Keys.RefreshTokenExpiresAt == nil || time.Now().After(*client.Keys.RefreshTokenExpiresAt) {
		return nil, apperr.Unauthorized("token not valid")
	}

	// Both tokens must name the resolved client. The decodes are
	// independent, so they run together.
	var (
		wg                            sync.WaitGroup
		accessSubject, refreshSubject uuid.UUID
		accessErr, refreshErr         error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		accessSubject, accessErr = s.tokens.Subject(req.AccessToken)
	}()
	go func() {
		defer wg.Done()
		refreshSubject, refreshErr = s.tokens.Subject(req.RefreshToken)
	}()
	wg.Wait()
	if accessErr != nil {
		return nil, accessErr
	}
	if refreshErr != nil {
		return nil, refreshErr
	}
	if accessSubject != client.Identifier || refreshSubject != client.Identifier {
		return nil, apperr.Unauthorized("token not valid")
	}

	pair, err := s.tokens.Issue(client.Identifier, client.Role)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(s.refreshTTL)
	_, err = s.mutate(ctx, client.Identifier, func(ctx context.Context, ops user.Ops) error {
		if err := ops.SetRefreshToken(ctx, client.Identifier, pair.RefreshToken, expiresAt); err != nil {
			return err
		}
		return ops.BumpVersion(ctx, client.Identifier)
	})
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// GetProfile returns the caller's own sanitized aggregate.
func (s *Service) GetProfile(ctx context.Context, subject, id uuid.UUID) (*UserView, error) {
	if subject != id {
		return nil, apperr.Forbidden("cannot access another user")
	}
	agg, err := s.cache.GetByIdentifier(ctx, id)
	if err != nil {
		return nil, err
	}
	return viewOf(agg), nil
}

// UpdateProfile rewrites name and contact fields. A changed email address
// also retires the stale email projection key.
func (s *Service) UpdateProfile(ctx context.Context, subject, id uuid.UUID, req UpdateProfileRequest) (*UserView, error) {
	if subject != id {
		return nil, apperr.Forbidden("cannot update another user")
	}

	var previousEmail string
	updated, err := s.mutate(ctx, id, func(ctx context.Context, ops user.Ops) error {
		current, err := ops.Get(ctx, id)
		if err != nil {
			return err
		}
		previousEmail = current.Communication.Email

		update := user.ProfileUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			MobileNo:  req.MobileNo,
		}
		if err := ops.SetProfile(ctx, id, update); err != nil {
			return err
		}
		return ops.BumpVersion(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	if previousEmail != updated.Communication.Email {
		s.coordinator.DropEmail(ctx, previousEmail)
	}

	return viewOf(updated), nil
}

// Deactivate flips the whole aggregate to inactive. Doing it twice is an
// error the client should see.
func (s *Service) Deactivate(ctx context.Context, subject, id uuid.UUID) error {
	if subject != id {
		return apperr.Forbidden("cannot deactivate another user")
	}

	agg, err := s.cache.GetByIdentifier(ctx, id)
	if err != nil {
		return err
	}
	if agg.Status == user.StatusInactive {
		return apperr.NotAcceptable("User Already Deactivated")
	}

	_, err = s.mutate(ctx, id, func(ctx context.Context, ops user.Ops) error {
		if err := ops.SetStatusAll(ctx, id, user.StatusInactive); err != nil {
			return err
		}
		return ops.BumpVersion(ctx, id)
	})
	return err
}

// List pages through all aggregates for administrators.
func (s *Service) List(ctx context.Context, page user.Page) (*ListResponse, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 || page.Size > 100 {
		page.Size = 20
	}

	aggregates, total, err := s.store.ListUsers(ctx, page)
	if err != nil {
		return nil, err
	}

	views := make([]*UserView, 0, len(aggregates))
	for _, agg := range aggregates {
		views = append(views, viewOf(agg))
	}
	return &ListResponse{Users: views, Total: total, Page: page.Number, Size: page.Size}, nil
}

// enqueue hands a job to the queue, logging instead of failing the request
// when the broker is unavailable. The row write already committed, so the
// push runs detached from request cancellation; mail delivery is best
// effort.
func (s *Service) enqueue(ctx context.Context, name string, payload any) {
	ctx = context.WithoutCancel(ctx)
	if err := s.jobs.Enqueue(ctx, name, payload); err != nil {
		logging.GetLoggerFromContext(ctx).Error("enqueue failed", "job", name, "error", err)
	}
}
