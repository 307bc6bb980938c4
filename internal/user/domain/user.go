package domain

import (
	"errors"
	"strings"
	"time"
)

// Role is the authorization role carried in tokens and checked by the routing guard.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the account entity. The session core reads identity and verification state and
// writes only the lockout fields.
type User struct {
	ID              string
	Email           string
	Name            string
	Role            Role
	PasswordHash    string
	IsEmailVerified bool
	LoginAttempts   int
	IsLocked        bool
	LockUntil       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LockoutState is the subset of User mutated by failed-login bookkeeping and session creation.
type LockoutState struct {
	LoginAttempts int
	IsLocked      bool
	LockUntil     *time.Time
}

// ClearedLockout is the state after a successful login or a full session invalidation.
var ClearedLockout = LockoutState{}

// LockedAt reports whether the user is locked at now: the lock flag is set and lockUntil is still ahead.
// A lapsed lock does not block, even while the flag has not been cleared yet.
func (u *User) LockedAt(now time.Time) bool {
	return u.IsLocked && u.LockUntil != nil && u.LockUntil.After(now)
}

// Lockout returns the user's current lockout state.
func (u *User) Lockout() LockoutState {
	return LockoutState{LoginAttempts: u.LoginAttempts, IsLocked: u.IsLocked, LockUntil: u.LockUntil}
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
