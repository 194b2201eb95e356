package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/user"
)

// Verification outcome messages returned to the client.
const (
	msgUserVerified         = "user verified"
	msgVerificationReissued = "verification token expired, a new verification email has been sent"
)

// VerifyEmail drives the verification state machine for a submitted token.
//
// A token that resolves and is inside its expiry window is consumed: the
// whole aggregate flips to active, the token is cleared and a welcome email
// is queued. A token past its window is replaced by a fresh one with a new
// 24 hour window, the aggregate stays inactive and the verification email
// is sent again. An unknown token is rejected outright.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (*MessageResponse, error) {
	token, err := uuid.Parse(rawToken)
	if err != nil {
		return nil, apperr.NotAcceptable("token not valid")
	}

	claim, err := s.store.LookupVerificationToken(ctx, token)
	if err != nil {
		if apperr.IsStatus(err, http.StatusNotFound) {
			return nil, apperr.NotAcceptable("token not valid")
		}
		return nil, err
	}

	if withinWindow(time.Now().UTC(), claim.ExpiresAt) {
		return s.consumeVerification(ctx, claim.UserID)
	}
	return s.reissueVerification(ctx, claim.UserID)
}

// withinWindow compares calendar dates, not instants: a token issued with a
// 24 hour window stays acceptable through the end of its expiry day.
func withinWindow(now, expiresAt time.Time) bool {
	today := now.Truncate(24 * time.Hour)
	expiryDay := expiresAt.UTC().Truncate(24 * time.Hour)
	return !today.After(expiryDay)
}

func (s *Service) consumeVerification(ctx context.Context, id uuid.UUID) (*MessageResponse, error) {
	verified, err := s.mutate(ctx, id, func(ctx context.Context, ops user.Ops) error {
		if err := ops.SetStatusAll(ctx, id, user.StatusActive); err != nil {
			return err
		}
		if err := ops.ConsumeVerification(ctx, id); err != nil {
			return err
		}
		return ops.BumpVersion(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(ctx, JobWelcomeEmail, WelcomeEmailJob{
		Email:    verified.Communication.Email,
		FullName: verified.FullName(),
	})

	return &MessageResponse{Message: msgUserVerified}, nil
}

func (s *Service) reissueVerification(ctx context.Context, id uuid.UUID) (*MessageResponse, error) {
	token := uuid.New()
	expiresAt := time.Now().UTC().Add(s.verificationTTL)

	reissued, err := s.mutate(ctx, id, func(ctx context.Context, ops user.Ops) error {
		if err := ops.ReissueVerification(ctx, id, token, expiresAt); err != nil {
			return err
		}
		return ops.BumpVersion(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(ctx, JobVerificationEmail, VerificationEmailJob{
		Email:    reissued.Communication.Email,
		FullName: reissued.FullName(),
		Token:    token,
	})

	return &MessageResponse{Message: msgVerificationReissued}, nil
}
