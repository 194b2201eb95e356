package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/crypto"
	"github.com/arkline/identity-api/internal/httputil"
	"github.com/arkline/identity-api/internal/user"
)

type contextKey string

const (
	clientContextKey contextKey = "auth.client"
	claimsContextKey contextKey = "auth.claims"
)

const (
	headerClientID  = "X-Client-Id"
	headerSignature = "X-Signature"
)

// ClientResolver maps the X-Client-Id header to a cached aggregate.
type ClientResolver interface {
	GetByClientID(ctx context.Context, clientID uuid.UUID) (*user.Aggregate, error)
}

// Middleware is the authentication chain for protected routes. Each layer
// assumes the previous ones ran: VerifySignature and RequireAuth both need
// the client resolved by ResolveClient.
type Middleware struct {
	clients ClientResolver
	tokens  *TokenService
}

func NewMiddleware(clients ClientResolver, tokens *TokenService) *Middleware {
	return &Middleware{clients: clients, tokens: tokens}
}

// ResolveClient loads the caller's aggregate from the projection cache by
// the X-Client-Id header. A client without a projection is unknown.
func (m *Middleware) ResolveClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(headerClientID)
		if raw == "" {
			httputil.RespondError(w, apperr.Unauthorized("missing client id"))
			return
		}
		clientID, err := uuid.Parse(raw)
		if err != nil {
			httputil.RespondError(w, apperr.Unauthorized("invalid client id"))
			return
		}

		client, err := m.clients.GetByClientID(r.Context(), clientID)
		if err != nil {
			if apperr.IsStatus(err, http.StatusNotFound) {
				err = apperr.Unauthorized("unknown client")
			}
			httputil.RespondError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), clientContextKey, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// VerifySignature checks the X-Signature header against the HMAC of the
// request computed with the client's secret. The body is re-buffered so
// downstream handlers can read it again.
func (m *Middleware) VerifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := ClientFromContext(r.Context())
		if err != nil {
			httputil.RespondError(w, err)
			return
		}

		signature := r.Header.Get(headerSignature)
		if signature == "" {
			httputil.RespondError(w, apperr.Unauthorized("missing signature"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.RespondError(w, apperr.BadRequest("cannot read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		secret := []byte(client.Keys.HmacSecretKey)
		if !crypto.VerifySignature(secret, r.Method, r.URL.Path, body, signature) {
			httputil.RespondError(w, apperr.Unauthorized("invalid signature"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuth validates the bearer access token and pins its subject to the
// resolved client, so a stolen token cannot be replayed under another
// client id.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httputil.RespondError(w, apperr.Unauthorized("missing bearer token"))
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			httputil.RespondError(w, err)
			return
		}
		if claims.Refresh {
			httputil.RespondError(w, apperr.Unauthorized("refresh token cannot access resources"))
			return
		}

		client, err := ClientFromContext(r.Context())
		if err != nil {
			httputil.RespondError(w, err)
			return
		}
		if claims.Subject != client.Identifier.String() {
			httputil.RespondError(w, apperr.Unauthorized("token subject mismatch"))
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route on the role claim.
func (m *Middleware) RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := ClaimsFromContext(r.Context())
			if err != nil {
				httputil.RespondError(w, err)
				return
			}
			if claims.Role != role {
				httputil.RespondError(w, apperr.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientFromContext returns the aggregate resolved by ResolveClient.
func ClientFromContext(ctx context.Context) (*user.Aggregate, error) {
	client, ok := ctx.Value(clientContextKey).(*user.Aggregate)
	if !ok {
		return nil, apperr.Unauthorized("client not resolved")
	}
	return client, nil
}

// ClaimsFromContext returns the claims validated by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	if !ok {
		return nil, apperr.Unauthorized("no authenticated subject")
	}
	return claims, nil
}
