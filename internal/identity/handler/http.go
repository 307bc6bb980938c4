// Package handler serves the JSON auth routes: login, signup, logout and logout-all.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"study-abroad-portal/backend/internal/identity/service"
	"study-abroad-portal/backend/internal/server/httpx"
	"study-abroad-portal/backend/internal/server/middleware"
	sessiondomain "study-abroad-portal/backend/internal/session/domain"
	sessionhandler "study-abroad-portal/backend/internal/session/handler"
	sessionservice "study-abroad-portal/backend/internal/session/service"
	userhandler "study-abroad-portal/backend/internal/user/handler"
)

const maxBodyBytes = 1 << 16

// SessionRevoker ends one or all sessions.
type SessionRevoker interface {
	DeleteSession(ctx context.Context, accessToken string) error
	InvalidateAllSessions(ctx context.Context, userID string) error
}

// Handler serves the auth routes.
type Handler struct {
	auth     *service.AuthService
	sessions SessionRevoker
	cookies  sessionhandler.Cookies
}

// NewHandler returns an auth handler.
func NewHandler(auth *service.AuthService, sessions SessionRevoker, cookies sessionhandler.Cookies) *Handler {
	return &Handler{auth: auth, sessions: sessions, cookies: cookies}
}

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/signup", h.Signup)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.HandleFunc("POST /api/auth/logout-all", h.LogoutAll)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type authResponse struct {
	User userhandler.Profile `json:"user"`
}

// Login answers 200 with the user and the four session cookies.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, deviceOf(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	h.setCookies(w, res)
	httpx.WriteJSON(w, http.StatusOK, authResponse{User: userhandler.ProfileOf(res.User)})
}

// Signup answers 201 with the new user and the four session cookies.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.auth.Signup(r.Context(), req.Email, req.Password, req.Name, deviceOf(r))
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		httpx.WriteError(w, http.StatusConflict, "Email already registered")
		return
	case err != nil:
		writeAuthError(w, err)
		return
	}
	h.setCookies(w, res)
	httpx.WriteJSON(w, http.StatusCreated, authResponse{User: userhandler.ProfileOf(res.User)})
}

// Logout deletes the current session and clears the cookies. It succeeds even when the session is already gone.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DeleteSession(r.Context(), sessionhandler.AccessToken(r)); err != nil {
		log.Printf("identity: logout failed: %v", err)
		writeAuthError(w, err)
		return
	}
	h.cookies.Clear(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// LogoutAll ends every session of the signed-in user.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := h.sessions.InvalidateAllSessions(r.Context(), userID); err != nil {
		log.Printf("identity: logout-all for %s failed: %v", userID, err)
		writeAuthError(w, err)
		return
	}
	h.cookies.Clear(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) setCookies(w http.ResponseWriter, res *service.AuthResult) {
	h.cookies.Set(w, sessionhandler.TokenPair{
		AccessToken:  res.Session.AccessToken,
		RefreshToken: res.Session.RefreshToken,
		UserID:       res.User.ID,
		Role:         string(res.User.Role),
	})
}

func deviceOf(r *http.Request) sessiondomain.DeviceInfo {
	return sessiondomain.DeviceInfo{UserAgent: r.UserAgent(), IPAddress: middleware.ClientIP(r)}
}

func writeAuthError(w http.ResponseWriter, err error) {
	ae := sessionservice.AsAuthenticationError(err)
	if ae.Status >= http.StatusInternalServerError {
		log.Printf("identity: %v", err)
	}
	httpx.WriteTypedError(w, ae.Status, string(ae.Type), ae.Message)
}
