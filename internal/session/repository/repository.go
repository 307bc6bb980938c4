package repository

import (
	"context"
	"time"

	"study-abroad-portal/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Lookups return (nil, nil) when no row exists
// and an error only for database failures.
type Repository interface {
	FindByAccessToken(ctx context.Context, token string) (*domain.SessionWithUser, error)
	FindByRefreshToken(ctx context.Context, token string) (*domain.SessionWithUser, error)
	// CountActiveForUser counts the user's sessions with expires > now.
	CountActiveForUser(ctx context.Context, userID string) (int, error)
	// FindOldestForUser returns the user's oldest active session by created_at.
	FindOldestForUser(ctx context.Context, userID string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Update(ctx context.Context, id string, fields domain.UpdateFields) error
	// Rotate updates the row only if its refresh token is still presentedRefresh and reports whether it did.
	Rotate(ctx context.Context, id, presentedRefresh string, fields domain.UpdateFields) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	// DeleteExpired removes sessions whose expiry is before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
