package repository

import (
	"context"
	"errors"

	"study-abroad-portal/backend/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when another user already has the email.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines persistence for users. Lookups return (nil, nil) when no row exists.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// UpdateLockout writes loginAttempts, isLocked and lockUntil for the user.
	UpdateLockout(ctx context.Context, id string, state domain.LockoutState) error
}
