package identity

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/auth"
	"github.com/arkline/identity-api/internal/crypto"
	"github.com/arkline/identity-api/internal/httputil"
	"github.com/arkline/identity-api/internal/user"
)

// Handler decodes encrypted envelopes, delegates to the service and seals
// the response again. Anonymous endpoints use the pre-shared key; endpoints
// behind ResolveClient use the caller's own key.
type Handler struct {
	service   *Service
	sharedKey []byte
}

func NewHandler(service *Service, sharedKey []byte) *Handler {
	return &Handler{service: service, sharedKey: sharedKey}
}

// validatable is implemented by every request DTO.
type validatable interface {
	Validate() error
}

// decodeEnvelope reads the encrypted body, opens it with key and validates
// the inner request.
func decodeEnvelope(r *http.Request, key []byte, dst validatable) error {
	var envelope Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := envelope.Validate(); err != nil {
		return apperr.BadRequest("%s", err.Error())
	}
	if err := crypto.DecryptPayload(key, envelope.Body, dst); err != nil {
		return apperr.BadRequest("cannot decrypt request body")
	}
	if err := dst.Validate(); err != nil {
		return apperr.BadRequest("%s", err.Error())
	}
	return nil
}

// respondSealed encrypts data under key and wraps it in the envelope.
func respondSealed(w http.ResponseWriter, key []byte, data any, statusCode int) {
	body, err := crypto.EncryptPayload(key, data)
	if err != nil {
		httputil.RespondError(w, apperr.Internal("cannot encrypt response"))
		return
	}
	httputil.RespondData(w, Envelope{Body: body}, statusCode)
}

// clientKey returns the resolved caller's AES key.
func clientKey(client *user.Aggregate) []byte {
	return []byte(client.Keys.AesSecretKey)
}

// Register handles POST /api/v1/users.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeEnvelope(r, h.sharedKey, &req); err != nil {
		httputil.RespondError(w, err)
		return
	}

	view, err := h.service.Register(r.Context(), req)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, h.sharedKey, view, http.StatusCreated)
}

// SignIn handles POST /api/v1/users/sign-in.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeEnvelope(r, h.sharedKey, &req); err != nil {
		httputil.RespondError(w, err)
		return
	}

	resp, err := h.service.SignIn(r.Context(), req)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, h.sharedKey, resp, http.StatusOK)
}

// Refresh handles POST /api/v1/users/refresh-token. The route runs behind
// ResolveClient only: the access token may already be expired, so the
// envelope key and the subject checks stand in for bearer auth.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	client, err := auth.ClientFromContext(r.Context())
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	var req RefreshRequest
	if err := decodeEnvelope(r, clientKey(client), &req); err != nil {
		httputil.RespondError(w, err)
		return
	}

	pair, err := h.service.Refresh(r.Context(), client, req)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, clientKey(client), pair, http.StatusOK)
}

// Verify handles GET /api/v1/users/verify/{token}. The request carries no
// body; the outcome goes back under the pre-shared key like the other
// anonymous flows.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, h.sharedKey, resp, http.StatusOK)
}

// Get handles GET /api/v1/users/{identifier}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	client, subject, id, err := h.resolveSubject(r)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	view, err := h.service.GetProfile(r.Context(), subject, id)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, clientKey(client), view, http.StatusOK)
}

// Update handles PUT /api/v1/users/{identifier}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	client, subject, id, err := h.resolveSubject(r)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	var req UpdateProfileRequest
	if err := decodeEnvelope(r, clientKey(client), &req); err != nil {
		httputil.RespondError(w, err)
		return
	}

	view, err := h.service.UpdateProfile(r.Context(), subject, id, req)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, clientKey(client), view, http.StatusOK)
}

// Deactivate handles DELETE /api/v1/users/{identifier}.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	client, subject, id, err := h.resolveSubject(r)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	if err := h.service.Deactivate(r.Context(), subject, id); err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, clientKey(client), MessageResponse{Message: "user deactivated"}, http.StatusOK)
}

// List handles GET /api/v1/users for administrators.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	client, err := auth.ClientFromContext(r.Context())
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	page := user.Page{
		Number: queryInt(r, "page", 1),
		Size:   queryInt(r, "size", 20),
	}

	resp, err := h.service.List(r.Context(), page)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	respondSealed(w, clientKey(client), resp, http.StatusOK)
}

// resolveSubject extracts the resolved client, the authenticated subject and
// the path identifier for the per-user routes.
func (h *Handler) resolveSubject(r *http.Request) (*user.Aggregate, uuid.UUID, uuid.UUID, error) {
	client, err := auth.ClientFromContext(r.Context())
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, err
	}
	claims, err := auth.ClaimsFromContext(r.Context())
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, err
	}
	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, apperr.Unauthorized("token not valid")
	}
	id, err := uuid.Parse(chi.URLParam(r, "identifier"))
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, apperr.BadRequest("invalid identifier")
	}
	return client, subject, id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
