package domain

import (
	"time"

	userdomain "study-abroad-portal/backend/internal/user/domain"
)

// Session binds the current access/refresh token pair to a user and device. It is the unit of revocation:
// deleting the row invalidates both tokens for store-backed validation.
type Session struct {
	ID           string
	UserID       string
	SessionToken string    // current access token; unique
	RefreshToken string    // current refresh token; unique
	Expires      time.Time // mirrors the access token expiry
	LastActivity time.Time
	UserAgent    string
	IPAddress    string
	CreatedAt    time.Time
}

// ActiveAt reports whether the session has not yet expired at now.
func (s *Session) ActiveAt(now time.Time) bool {
	return !s.Expires.Before(now)
}

// SessionWithUser is a session joined with its owning user.
type SessionWithUser struct {
	Session
	User *userdomain.User
}

// DeviceInfo is the client metadata recorded on a new session.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

// UpdateFields is a partial update; nil fields are left unchanged.
type UpdateFields struct {
	SessionToken *string
	RefreshToken *string
	Expires      *time.Time
	LastActivity *time.Time
}

// Empty reports whether no field is set.
func (f UpdateFields) Empty() bool {
	return f.SessionToken == nil && f.RefreshToken == nil && f.Expires == nil && f.LastActivity == nil
}

// Rotation returns the update that replaces both tokens, the expiry, and lastActivity in one write.
func Rotation(accessToken, refreshToken string, expires, now time.Time) UpdateFields {
	return UpdateFields{
		SessionToken: &accessToken,
		RefreshToken: &refreshToken,
		Expires:      &expires,
		LastActivity: &now,
	}
}

// Touch returns the update that only bumps lastActivity.
func Touch(now time.Time) UpdateFields {
	return UpdateFields{LastActivity: &now}
}
