package identity

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/auth"
	"github.com/arkline/identity-api/internal/user"
)

type testEnv struct {
	service *Service
	store   *memStore
	cache   *memCache
	queue   *memQueue
	tokens  *auth.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	cache := newMemCache()
	jobs := &memQueue{}
	tokens := auth.NewTokenService([]byte("test-signing-secret"), 15*time.Minute, 24*time.Hour)
	coordinator := user.NewCoordinator(store, cache)

	return &testEnv{
		service: NewService(store, cache, coordinator, tokens, jobs, 24*time.Hour),
		store:   store,
		cache:   cache,
		queue:   jobs,
		tokens:  tokens,
	}
}

func registerRequest(email string) RegisterRequest {
	return RegisterRequest{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     email,
		MobileNo:  "5551234567",
		Password:  "s3cret-password",
	}
}

// register creates a user and returns its view plus the verification token
// captured from the queued email job.
func (e *testEnv) register(t *testing.T, email string) (*UserView, VerificationEmailJob) {
	t.Helper()
	view, err := e.service.Register(context.Background(), registerRequest(email))
	require.NoError(t, err)

	mails := e.queue.byName(JobVerificationEmail)
	require.NotEmpty(t, mails)
	job, ok := mails[len(mails)-1].payload.(VerificationEmailJob)
	require.True(t, ok)
	return view, job
}

func TestRegisterCreatesInactiveUser(t *testing.T) {
	env := newTestEnv(t)

	view, job := env.register(t, "jane@example.com")

	assert.Equal(t, user.StatusInactive, view.Status)
	assert.Equal(t, auth.RoleUser, view.Role)
	assert.Equal(t, "Jane Doe", view.FullName)
	assert.False(t, view.IsEmailVerified)
	assert.Equal(t, "jane@example.com", job.Email)
	assert.NotEqual(t, view.Identifier, view.ClientID)

	// Projection and rows agree straight after the commit.
	cached, err := env.cache.GetByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	stored, err := env.store.Get(context.Background(), view.Identifier)
	require.NoError(t, err)
	assert.Equal(t, stored, cached)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jane@example.com")

	_, err := env.service.Register(context.Background(), registerRequest("jane@example.com"))
	assert.True(t, apperr.IsStatus(err, http.StatusBadRequest))
}

func TestSignInBeforeVerificationForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jane@example.com")

	_, err := env.service.SignIn(context.Background(), SignInRequest{
		UserName: "jane@example.com",
		Password: "s3cret-password",
	})
	assert.True(t, apperr.IsStatus(err, http.StatusForbidden))
}

func TestAccountLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, mail := env.register(t, "jane@example.com")

	// Verify the email: the whole aggregate flips active, the token is
	// consumed and a welcome mail goes out.
	resp, err := env.service.VerifyEmail(ctx, mail.Token.String())
	require.NoError(t, err)
	assert.Equal(t, msgUserVerified, resp.Message)

	verified, err := env.cache.GetByIdentifier(ctx, view.Identifier)
	require.NoError(t, err)
	assert.Equal(t, user.StatusActive, verified.Status)
	assert.Equal(t, user.StatusActive, verified.Credentials.Status)
	assert.Equal(t, user.StatusActive, verified.Keys.Status)
	assert.True(t, verified.Settings.IsEmailVerified)
	assert.Nil(t, verified.Settings.EmailVerificationToken)
	assert.NotEmpty(t, env.queue.byName(JobWelcomeEmail))

	// Sign in: tokens come back with the key material and the refresh
	// token is persisted.
	signIn, err := env.service.SignIn(ctx, SignInRequest{
		UserName: "jane@example.com",
		Password: "s3cret-password",
	})
	require.NoError(t, err)
	assert.Equal(t, view.Identifier, signIn.Identifier)
	assert.Equal(t, "Jane Doe", signIn.FullName)
	assert.NotEmpty(t, signIn.Keys.Aes)
	assert.NotEmpty(t, signIn.Keys.Hmac)

	client, err := env.cache.GetByClientID(ctx, signIn.ClientID)
	require.NoError(t, err)
	assert.Equal(t, signIn.Tokens.RefreshToken, client.Keys.RefreshToken)

	// Refresh with the issued pair.
	pair, err := env.service.Refresh(ctx, client, RefreshRequest{
		AccessToken:  signIn.Tokens.AccessToken,
		RefreshToken: signIn.Tokens.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, signIn.Tokens.RefreshToken, pair.RefreshToken)

	// The rotation invalidated the old refresh token.
	rotated, err := env.cache.GetByClientID(ctx, signIn.ClientID)
	require.NoError(t, err)
	_, err = env.service.Refresh(ctx, rotated, RefreshRequest{
		AccessToken:  signIn.Tokens.AccessToken,
		RefreshToken: signIn.Tokens.RefreshToken,
	})
	assert.True(t, apperr.IsStatus(err, http.StatusUnauthorized))
}

func (e *testEnv) registerVerified(t *testing.T, email string) *SignInResponse {
	t.Helper()
	_, mail := e.register(t, email)
	_, err := e.service.VerifyEmail(context.Background(), mail.Token.String())
	require.NoError(t, err)

	signIn, err := e.service.SignIn(context.Background(), SignInRequest{
		UserName: email,
		Password: "s3cret-password",
	})
	require.NoError(t, err)
	return signIn
}

func TestRefreshRejectsForeignTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.registerVerified(t, "alice@example.com")
	bob := env.registerVerified(t, "bob@example.com")

	aliceClient, err := env.cache.GetByClientID(ctx, alice.ClientID)
	require.NoError(t, err)

	// Bob's pair presented under Alice's client: the persisted-token check
	// already refuses it, the subject check would too.
	_, err = env.service.Refresh(ctx, aliceClient, RefreshRequest{
		AccessToken:  bob.Tokens.AccessToken,
		RefreshToken: bob.Tokens.RefreshToken,
	})
	assert.True(t, apperr.IsStatus(err, http.StatusUnauthorized))
}

func TestRefreshRejectsMismatchedSubjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	victim := env.registerVerified(t, "victim@example.com")
	victimClient, err := env.cache.GetByClientID(ctx, victim.ClientID)
	require.NoError(t, err)

	// The presented refresh token matches the persisted one, so only the
	// subject comparison stands between a foreign access token and a fresh
	// pair.
	foreignPair, err := env.tokens.Issue(uuid.New(), auth.RoleUser)
	require.NoError(t, err)

	_, err = env.service.Refresh(ctx, victimClient, RefreshRequest{
		AccessToken:  foreignPair.AccessToken,
		RefreshToken: victim.Tokens.RefreshToken,
	})
	assert.True(t, apperr.IsStatus(err, http.StatusUnauthorized))

	// And the mirror case: the victim's own access token cannot carry a
	// foreign refresh token that happens to equal the persisted value.
	env.store.mutateCommitted(victim.Identifier, func(agg *user.Aggregate) {
		agg.Keys.RefreshToken = foreignPair.RefreshToken
	})
	planted, err := env.store.Get(ctx, victim.Identifier)
	require.NoError(t, err)

	_, err = env.service.Refresh(ctx, planted, RefreshRequest{
		AccessToken:  victim.Tokens.AccessToken,
		RefreshToken: foreignPair.RefreshToken,
	})
	assert.True(t, apperr.IsStatus(err, http.StatusUnauthorized))
}

func TestRefreshRejectsExpiredPersistedToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signIn := env.registerVerified(t, "jane@example.com")
	env.store.mutateCommitted(signIn.Identifier, func(agg *user.Aggregate) {
		past := time.Now().Add(-time.Hour)
		agg.Keys.RefreshTokenExpiresAt = &past
	})
	client, err := env.store.Get(ctx, signIn.Identifier)
	require.NoError(t, err)

	_, err = env.service.Refresh(ctx, client, RefreshRequest{
		AccessToken:  signIn.Tokens.AccessToken,
		RefreshToken: signIn.Tokens.RefreshToken,
	})
	assert.True(t, apperr.IsStatus(err, http.StatusUnauthorized))
}

func TestVerifyConsumedTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, mail := env.register(t, "jane@example.com")
	_, err := env.service.VerifyEmail(ctx, mail.Token.String())
	require.NoError(t, err)

	// Consumption cleared the token, so a replay no longer resolves.
	_, err = env.service.VerifyEmail(ctx, mail.Token.String())
	assert.True(t, apperr.IsStatus(err, http.StatusNotAcceptable))
}

func TestVerifyUnknownTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.VerifyEmail(context.Background(), "2c5ea4c0-4067-11e9-8bad-9b1deb4d3b7d")
	assert.True(t, apperr.IsStatus(err, http.StatusNotAcceptable))

	_, err = env.service.VerifyEmail(context.Background(), "not-a-uuid")
	assert.True(t, apperr.IsStatus(err, http.StatusNotAcceptable))
}

func TestVerifyExpiredTokenReissues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, mail := env.register(t, "jane@example.com")
	env.store.mutateCommitted(view.Identifier, func(agg *user.Aggregate) {
		past := time.Now().UTC().Add(-72 * time.Hour)
		agg.Settings.EmailVerificationTokenExpiresAt = &past
	})

	resp, err := env.service.VerifyEmail(ctx, mail.Token.String())
	require.NoError(t, err)
	assert.Equal(t, msgVerificationReissued, resp.Message)

	// Still inactive, but holding a fresh token and a second queued mail.
	stored, err := env.store.Get(ctx, view.Identifier)
	require.NoError(t, err)
	assert.Equal(t, user.StatusInactive, stored.Status)
	require.NotNil(t, stored.Settings.EmailVerificationToken)
	assert.NotEqual(t, mail.Token, *stored.Settings.EmailVerificationToken)
	assert.Len(t, env.queue.byName(JobVerificationEmail), 2)
}

func TestVerificationWindowIsDateBased(t *testing.T) {
	noon := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	assert.True(t, withinWindow(noon, noon))
	// Expired by the clock but still on the same calendar day.
	assert.True(t, withinWindow(noon, noon.Add(-2*time.Hour)))
	assert.True(t, withinWindow(noon, noon.Add(2*time.Hour)))
	assert.True(t, withinWindow(noon, noon.Add(36*time.Hour)))
	// Previous day is out.
	assert.False(t, withinWindow(noon, noon.Add(-24*time.Hour)))
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signIn := env.registerVerified(t, "jane@example.com")

	view, err := env.service.UpdateProfile(ctx, signIn.Identifier, signIn.Identifier, UpdateProfileRequest{
		FirstName: "Janet",
		LastName:  "Smith",
		Email:     "janet@example.com",
		MobileNo:  "5559876543",
	})
	require.NoError(t, err)
	assert.Equal(t, "Janet Smith", view.FullName)
	assert.Equal(t, "janet@example.com", view.Email)

	// The stale email key is gone, the new one resolves.
	_, err = env.cache.GetByEmail(ctx, "jane@example.com")
	assert.True(t, apperr.IsStatus(err, http.StatusNotFound))
	updated, err := env.cache.GetByEmail(ctx, "janet@example.com")
	require.NoError(t, err)
	assert.Equal(t, "janet@example.com", updated.Credentials.Username)
}

func TestUpdateProfileForeignSubjectForbidden(t *testing.T) {
	env := newTestEnv(t)

	alice := env.registerVerified(t, "alice@example.com")
	bob := env.registerVerified(t, "bob@example.com")

	_, err := env.service.UpdateProfile(context.Background(), alice.Identifier, bob.Identifier, UpdateProfileRequest{
		FirstName: "X",
		LastName:  "Y",
		Email:     "x@example.com",
	})
	assert.True(t, apperr.IsStatus(err, http.StatusForbidden))
}

func TestDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signIn := env.registerVerified(t, "jane@example.com")

	require.NoError(t, env.service.Deactivate(ctx, signIn.Identifier, signIn.Identifier))

	cached, err := env.cache.GetByIdentifier(ctx, signIn.Identifier)
	require.NoError(t, err)
	assert.Equal(t, user.StatusInactive, cached.Status)
	assert.Equal(t, user.StatusInactive, cached.Keys.Status)

	// Doing it again is reported, not ignored.
	err = env.service.Deactivate(ctx, signIn.Identifier, signIn.Identifier)
	assert.True(t, apperr.IsStatus(err, http.StatusNotAcceptable))
	assert.Equal(t, "User Already Deactivated", err.Error())
}

func TestCacheRestoredAfterFailedCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	signIn := env.registerVerified(t, "jane@example.com")
	before, err := env.store.Get(ctx, signIn.Identifier)
	require.NoError(t, err)

	// The projection is written before commit; a lost commit must roll the
	// cache back to the committed state.
	env.store.failCommit = true
	_, err = env.service.UpdateProfile(ctx, signIn.Identifier, signIn.Identifier, UpdateProfileRequest{
		FirstName: "Janet",
		LastName:  "Smith",
		Email:     "janet@example.com",
	})
	require.Error(t, err)

	cached, err := env.cache.GetByIdentifier(ctx, signIn.Identifier)
	require.NoError(t, err)
	assert.Equal(t, before, cached)
	assert.Equal(t, "Jane", cached.FirstName)

	// The key written for the never-committed address is gone too.
	_, err = env.cache.GetByEmail(ctx, "janet@example.com")
	assert.True(t, apperr.IsStatus(err, http.StatusNotFound))
}

func TestListUsersSanitized(t *testing.T) {
	env := newTestEnv(t)

	env.registerVerified(t, "alice@example.com")
	env.registerVerified(t, "bob@example.com")

	resp, err := env.service.List(context.Background(), user.Page{Number: 1, Size: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Users, 2)
}
