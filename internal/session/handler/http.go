// Package handler serves the cookie-driven session endpoints: validation with transparent refresh,
// and token verification with the full user profile.
package handler

import (
	"context"
	"log"
	"net/http"

	"study-abroad-portal/backend/internal/server/httpx"
	"study-abroad-portal/backend/internal/session/service"
	userdomain "study-abroad-portal/backend/internal/user/domain"
	userhandler "study-abroad-portal/backend/internal/user/handler"
)

// ValidationHeader reports how a validation succeeded: store, jwt-fallback or refreshed.
const ValidationHeader = "X-Session-Validation"

const modeRefreshed = "refreshed"

// SessionValidator validates access tokens and rotates refresh tokens.
type SessionValidator interface {
	ValidateSession(ctx context.Context, accessToken string) service.Validation
	RefreshSessionTokens(ctx context.Context, refreshToken string) (*service.RefreshResult, bool)
}

// UserGetter loads the profile returned by verify-token.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Handler serves POST /api/session/validateSession and POST /api/auth/verify-token.
type Handler struct {
	validator SessionValidator
	users     UserGetter
	cookies   Cookies
}

// NewHandler returns a session handler.
func NewHandler(validator SessionValidator, users UserGetter, cookies Cookies) *Handler {
	return &Handler{validator: validator, users: users, cookies: cookies}
}

// Register mounts both routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	h.RegisterValidate(mux)
	mux.HandleFunc("POST /api/auth/verify-token", h.VerifyToken)
}

// RegisterValidate mounts only the validation route. The internal listener uses it.
func (h *Handler) RegisterValidate(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session/validateSession", h.ValidateSession)
}

// ValidateSession answers 200 with the identity, refreshing the token pair when the access token no longer
// validates, or 401 {error, status}.
func (h *Handler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	id, mode, fail := h.resolve(w, r)
	if fail != nil {
		httpx.WriteJSON(w, fail.Status, fail)
		return
	}
	w.Header().Set(ValidationHeader, mode)
	httpx.WriteJSON(w, http.StatusOK, id)
}

// VerifyToken is ValidateSession with the user's profile in the response.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	id, mode, fail := h.resolve(w, r)
	if fail != nil {
		httpx.WriteJSON(w, fail.Status, fail)
		return
	}
	w.Header().Set(ValidationHeader, mode)

	u, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		// The session was already accepted, possibly in fallback mode; answer with what the token says.
		log.Printf("session: verify-token profile lookup for %s failed: %v", id.UserID, err)
		httpx.WriteJSON(w, http.StatusOK, map[string]userhandler.Profile{"user": {
			ID:              id.UserID,
			Email:           id.Email,
			Role:            id.Role,
			IsEmailVerified: id.IsEmailVerified,
		}})
		return
	}
	if u == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid session")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]userhandler.Profile{"user": userhandler.ProfileOf(u)})
}

// resolve validates the access token and, when that fails, tries the refresh token. A successful refresh
// writes the new cookies to w.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*service.Identity, string, *httpx.ErrorBody) {
	access, refresh := AccessToken(r), RefreshToken(r)
	if access == "" && refresh == "" {
		return nil, "", &httpx.ErrorBody{Error: "No session", Status: http.StatusUnauthorized}
	}

	fail := &httpx.ErrorBody{Error: "Invalid session", Status: http.StatusUnauthorized}
	if access != "" {
		v := h.validator.ValidateSession(r.Context(), access)
		if v.Valid() {
			return v.Identity, string(v.Mode), nil
		}
		if v.Outcome == service.OutcomeExpired {
			fail = &httpx.ErrorBody{Error: v.Error, Status: v.Status}
		}
	}
	if refresh == "" {
		return nil, "", fail
	}
	res, ok := h.validator.RefreshSessionTokens(r.Context(), refresh)
	if !ok {
		return nil, "", fail
	}
	h.cookies.Set(w, TokenPair{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		UserID:       res.UserID,
		Role:         res.Role,
	})
	id := res.Identity
	return &id, modeRefreshed, nil
}
