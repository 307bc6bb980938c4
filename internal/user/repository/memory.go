package repository

import (
	"context"
	"sync"
	"time"

	"study-abroad-portal/backend/internal/user/domain"
)

// MemoryRepository is an in-process user store for local development and tests.
// Returned users are copies; mutating them does not change stored state.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyUser(r.byID[id]), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return copyUser(r.byID[id]), nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	email := domain.NormalizeEmail(u.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[email]; taken {
		return ErrDuplicateEmail
	}
	c := copyUser(u)
	c.Email = email
	r.byID[c.ID] = c
	r.byEmail[email] = c.ID
	return nil
}

func (r *MemoryRepository) UpdateLockout(ctx context.Context, id string, state domain.LockoutState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil
	}
	u.LoginAttempts = state.LoginAttempts
	u.IsLocked = state.IsLocked
	u.LockUntil = copyTime(state.LockUntil)
	return nil
}

func copyUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	c.LockUntil = copyTime(u.LockUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
