// Package http assembles the router and owns the server lifecycle.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/arkline/identity-api/internal/auth"
	"github.com/arkline/identity-api/internal/config"
	"github.com/arkline/identity-api/internal/httputil"
	"github.com/arkline/identity-api/internal/identity"
	"github.com/arkline/identity-api/internal/logging"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, identityHandler *identity.Handler, authMiddleware *auth.Middleware, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Id", "X-Signature"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	// Global middleware
	r.Use(SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Compress(5))

	r.Get("/health", handleHealth)

	r.Route("/api/v1/users", func(r chi.Router) {
		// Anonymous flows use the pre-shared envelope key.
		r.Post("/", identityHandler.Register)
		r.Post("/sign-in", identityHandler.SignIn)
		r.Get("/verify/{token}", identityHandler.Verify)

		// Refresh authenticates by client id, payload signature and token
		// ownership; the access token may already be expired here, so no
		// bearer check.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.ResolveClient)
			r.Use(authMiddleware.VerifySignature)
			r.Post("/refresh-token", identityHandler.Refresh)
		})

		// Fully authenticated routes: resolved client, signed payload,
		// live access token.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.ResolveClient)
			r.Use(authMiddleware.VerifySignature)
			r.Use(authMiddleware.RequireAuth)

			r.Get("/{identifier}", identityHandler.Get)
			r.Put("/{identifier}", identityHandler.Update)
			r.Delete("/{identifier}", identityHandler.Deactivate)

			r.With(authMiddleware.RequireRole(auth.RoleAdmin)).Get("/", identityHandler.List)
		})
	})

	return r
}

// handleHealth is a simple health check endpoint.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "api is running"}, http.StatusOK)
}
