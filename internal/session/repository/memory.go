package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"study-abroad-portal/backend/internal/session/domain"
	userrepo "study-abroad-portal/backend/internal/user/repository"
)

// MemoryRepository is an in-process session store for local development and tests.
// Joins resolve users through the given user repository.
type MemoryRepository struct {
	users userrepo.Repository
	now   func() time.Time

	mu          sync.RWMutex
	sessions    map[string]*domain.Session
	unavailable error
}

// NewMemoryRepository returns an empty in-memory session repository joined against users.
func NewMemoryRepository(users userrepo.Repository) *MemoryRepository {
	return &MemoryRepository{
		users:    users,
		now:      time.Now,
		sessions: make(map[string]*domain.Session),
	}
}

// SetUnavailable makes every subsequent call fail with err until called again with nil.
// It simulates a store outage.
func (r *MemoryRepository) SetUnavailable(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = err
}

func (r *MemoryRepository) FindByAccessToken(ctx context.Context, token string) (*domain.SessionWithUser, error) {
	return r.findJoined(ctx, func(s *domain.Session) bool { return s.SessionToken == token })
}

func (r *MemoryRepository) FindByRefreshToken(ctx context.Context, token string) (*domain.SessionWithUser, error) {
	return r.findJoined(ctx, func(s *domain.Session) bool { return s.RefreshToken == token })
}

func (r *MemoryRepository) findJoined(ctx context.Context, match func(*domain.Session) bool) (*domain.SessionWithUser, error) {
	r.mu.RLock()
	if r.unavailable != nil {
		err := r.unavailable
		r.mu.RUnlock()
		return nil, err
	}
	var found *domain.Session
	for _, s := range r.sessions {
		if match(s) {
			c := *s
			found = &c
			break
		}
	}
	r.mu.RUnlock()
	if found == nil {
		return nil, nil
	}
	u, err := r.users.GetByID(ctx, found.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	return &domain.SessionWithUser{Session: *found, User: u}, nil
}

func (r *MemoryRepository) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.unavailable != nil {
		return 0, r.unavailable
	}
	now := r.now()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.Expires.After(now) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) FindOldestForUser(ctx context.Context, userID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.unavailable != nil {
		return nil, r.unavailable
	}
	now := r.now()
	var active []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.Expires.After(now) {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	c := *active[0]
	return &c, nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable != nil {
		return r.unavailable
	}
	c := *s
	r.sessions[s.ID] = &c
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fields domain.UpdateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable != nil {
		return r.unavailable
	}
	if s, ok := r.sessions[id]; ok {
		apply(s, fields)
	}
	return nil
}

// Rotate applies fields only while the row still holds presentedRefresh; the check and the write share the lock.
func (r *MemoryRepository) Rotate(ctx context.Context, id, presentedRefresh string, fields domain.UpdateFields) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable != nil {
		return false, r.unavailable
	}
	s, ok := r.sessions[id]
	if !ok || s.RefreshToken != presentedRefresh || fields.Empty() {
		return false, nil
	}
	apply(s, fields)
	return true, nil
}

func apply(s *domain.Session, fields domain.UpdateFields) {
	if fields.SessionToken != nil {
		s.SessionToken = *fields.SessionToken
	}
	if fields.RefreshToken != nil {
		s.RefreshToken = *fields.RefreshToken
	}
	if fields.Expires != nil {
		s.Expires = *fields.Expires
	}
	if fields.LastActivity != nil {
		s.LastActivity = *fields.LastActivity
	}
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable != nil {
		return r.unavailable
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable != nil {
		return 0, r.unavailable
	}
	var n int64
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable != nil {
		return 0, r.unavailable
	}
	var n int64
	for id, s := range r.sessions {
		if s.Expires.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// ListForUser returns copies of all of the user's sessions, oldest first. Used by tests and diagnostics.
func (r *MemoryRepository) ListForUser(userID string) []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
