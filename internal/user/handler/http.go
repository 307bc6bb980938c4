// Package handler serves the signed-in user's profile and defines the profile payload shared by auth responses.
package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"study-abroad-portal/backend/internal/server/httpx"
	"study-abroad-portal/backend/internal/server/middleware"
	"study-abroad-portal/backend/internal/user/domain"
)

// Profile is the public view of a user. It never carries the password hash or lockout state.
type Profile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Role            string    `json:"role"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ProfileOf converts u to its public view.
func ProfileOf(u *domain.User) Profile {
	return Profile{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            string(u.Role),
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
	}
}

// UserGetter loads a user by id.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Handler serves GET /api/profile.
type Handler struct {
	users UserGetter
}

// NewHandler returns a profile handler over users.
func NewHandler(users UserGetter) *Handler {
	return &Handler{users: users}
}

// Register mounts the profile route on mux. The route sits behind the routing guard.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/profile", h.Profile)
}

// Profile returns the caller's profile. The caller is identified by the guard.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		log.Printf("user: profile lookup for %s failed: %v", userID, err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "Profile temporarily unavailable")
		return
	}
	if u == nil {
		httpx.WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]Profile{"user": ProfileOf(u)})
}
