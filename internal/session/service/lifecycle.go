// Package service implements session issuance, eviction, lockout bookkeeping, validation and refresh.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"study-abroad-portal/backend/internal/security"
	"study-abroad-portal/backend/internal/session/domain"
	"study-abroad-portal/backend/internal/telemetry"
	userdomain "study-abroad-portal/backend/internal/user/domain"
)

// SessionRepo is the session repository needed by the session services.
type SessionRepo interface {
	FindByAccessToken(ctx context.Context, token string) (*domain.SessionWithUser, error)
	FindByRefreshToken(ctx context.Context, token string) (*domain.SessionWithUser, error)
	CountActiveForUser(ctx context.Context, userID string) (int, error)
	FindOldestForUser(ctx context.Context, userID string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Update(ctx context.Context, id string, fields domain.UpdateFields) error
	// Rotate updates the row only if its refresh token is still presentedRefresh and reports whether it did.
	Rotate(ctx context.Context, id, presentedRefresh string, fields domain.UpdateFields) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UserRepo is the minimal user repository needed by the lifecycle manager.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	UpdateLockout(ctx context.Context, id string, state userdomain.LockoutState) error
}

// Config holds the lifecycle limits.
type Config struct {
	MaxConcurrentSessions int
	MaxLoginAttempts      int
	LockoutDuration       time.Duration
	RetryAttempts         int
	RetryBaseDelay        time.Duration
}

// DefaultConfig returns the production limits: 3 sessions, 5 attempts, 15m lockout, 3 retries from 1s.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSessions: 3,
		MaxLoginAttempts:      5,
		LockoutDuration:       15 * time.Minute,
		RetryAttempts:         3,
		RetryBaseDelay:        time.Second,
	}
}

// IssuedSession is the result of CreateSession.
type IssuedSession struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Session          *domain.Session
}

// LoginFailure is the outcome of RecordFailedLogin.
type LoginFailure struct {
	Attempts  int
	Locked    bool
	LockUntil time.Time
	Message   string
}

// Err returns the error a login handler should answer with.
func (f LoginFailure) Err() *AuthenticationError {
	if f.Locked {
		return locked(f.Message)
	}
	return unauthenticated(f.Message)
}

const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountBlocked     = "Account blocked due to too many failed attempts"
	msgAccountLocked      = "Account is temporarily locked. Try again later"
)

// Manager creates and revokes sessions and keeps failed-login state.
type Manager struct {
	sessions SessionRepo
	users    UserRepo
	tokens   *security.TokenCodec
	cfg      Config
	events   telemetry.EventEmitter
	metrics  *telemetry.AuthMetrics
	now      func() time.Time
}

// NewManager returns a Manager. events and metrics may be nil.
func NewManager(sessions SessionRepo, users UserRepo, tokens *security.TokenCodec, cfg Config, events telemetry.EventEmitter, metrics *telemetry.AuthMetrics) *Manager {
	if cfg.MaxConcurrentSessions < 1 {
		cfg.MaxConcurrentSessions = 1
	}
	if cfg.MaxLoginAttempts < 1 {
		cfg.MaxLoginAttempts = 1
	}
	return &Manager{
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		cfg:      cfg,
		events:   events,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession issues a new token pair and persists a session row for data.UserID.
// For logins (isSignup false) the user must exist and not be locked, the oldest sessions are evicted
// to stay within MaxConcurrentSessions, and the lockout counters are reset.
func (m *Manager) CreateSession(ctx context.Context, data security.SessionData, device domain.DeviceInfo, isSignup bool) (*IssuedSession, error) {
	now := m.now()
	if !isSignup {
		var user *userdomain.User
		err := m.withRetry(ctx, "load user", func(ctx context.Context) error {
			var err error
			user, err = m.users.GetByID(ctx, data.UserID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, unauthenticated("User not found")
		}
		if user.LockedAt(now) {
			return nil, locked(msgAccountLocked)
		}
		if err := m.enforceSessionCap(ctx, data.UserID); err != nil {
			return nil, err
		}
	}

	access, accessExp, err := m.tokens.SignAccess(data)
	if err != nil {
		return nil, internalError("failed to issue session tokens", err)
	}
	refresh, refreshExp, err := m.tokens.SignRefresh(data)
	if err != nil {
		return nil, internalError("failed to issue session tokens", err)
	}

	s := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       data.UserID,
		SessionToken: access,
		RefreshToken: refresh,
		Expires:      accessExp,
		LastActivity: now,
		UserAgent:    device.UserAgent,
		IPAddress:    device.IPAddress,
		CreatedAt:    now,
	}
	if err := m.withRetry(ctx, "create session", func(ctx context.Context) error {
		return m.sessions.Create(ctx, s)
	}); err != nil {
		return nil, err
	}

	if !isSignup {
		if err := m.withRetry(ctx, "reset lockout", func(ctx context.Context) error {
			return m.users.UpdateLockout(ctx, data.UserID, userdomain.ClearedLockout)
		}); err != nil {
			return nil, err
		}
	}

	return &IssuedSession{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		Session:          s,
	}, nil
}

// enforceSessionCap deletes the user's oldest active sessions so that one more fits under the cap.
// The check is count-then-delete, so concurrent logins may briefly exceed the cap; the next login trims it back.
func (m *Manager) enforceSessionCap(ctx context.Context, userID string) error {
	var count int
	if err := m.withRetry(ctx, "count sessions", func(ctx context.Context) error {
		var err error
		count, err = m.sessions.CountActiveForUser(ctx, userID)
		return err
	}); err != nil {
		return err
	}
	excess := count - m.cfg.MaxConcurrentSessions + 1
	evicted := 0
	for ; excess > 0; excess-- {
		var oldest *domain.Session
		if err := m.withRetry(ctx, "find oldest session", func(ctx context.Context) error {
			var err error
			oldest, err = m.sessions.FindOldestForUser(ctx, userID)
			return err
		}); err != nil {
			return err
		}
		if oldest == nil {
			break
		}
		if err := m.withRetry(ctx, "evict session", func(ctx context.Context) error {
			return m.sessions.Delete(ctx, oldest.ID)
		}); err != nil {
			return err
		}
		evicted++
		log.Printf("session: evicted session %s for user %s (limit %d)", oldest.ID, userID, m.cfg.MaxConcurrentSessions)
		telemetry.EmitAsync(m.events, &telemetry.Event{
			Type:      telemetry.EventSessionEvicted,
			UserID:    userID,
			SessionID: oldest.ID,
			IPAddress: oldest.IPAddress,
			UserAgent: oldest.UserAgent,
			Detail:    "concurrent session limit",
		})
	}
	m.metrics.Evictions(ctx, evicted)
	return nil
}

// InvalidateAllSessions deletes every session of the user and clears the lockout fields.
func (m *Manager) InvalidateAllSessions(ctx context.Context, userID string) error {
	var n int64
	if err := m.withRetry(ctx, "delete user sessions", func(ctx context.Context) error {
		var err error
		n, err = m.sessions.DeleteAllForUser(ctx, userID)
		return err
	}); err != nil {
		return err
	}
	if err := m.withRetry(ctx, "reset lockout", func(ctx context.Context) error {
		return m.users.UpdateLockout(ctx, userID, userdomain.ClearedLockout)
	}); err != nil {
		return err
	}
	log.Printf("session: invalidated %d sessions for user %s", n, userID)
	telemetry.EmitAsync(m.events, &telemetry.Event{
		Type:   telemetry.EventSessionsInvalidated,
		UserID: userID,
		Detail: fmt.Sprintf("%d sessions", n),
	})
	return nil
}

// RecordFailedLogin increments the user's failed attempts and locks the account when MaxLoginAttempts is reached.
// A lock that has already lapsed starts the count over.
func (m *Manager) RecordFailedLogin(ctx context.Context, user *userdomain.User, device domain.DeviceInfo) (LoginFailure, error) {
	now := m.now()
	attempts := user.LoginAttempts
	if user.IsLocked && !user.LockedAt(now) {
		attempts = 0
	}
	attempts++

	state := userdomain.LockoutState{LoginAttempts: attempts}
	failure := LoginFailure{Attempts: attempts, Message: msgInvalidCredentials}
	if attempts >= m.cfg.MaxLoginAttempts {
		until := now.Add(m.cfg.LockoutDuration)
		state.IsLocked = true
		state.LockUntil = &until
		failure.Locked = true
		failure.LockUntil = until
		failure.Message = msgAccountBlocked
	}
	if err := m.withRetry(ctx, "record failed login", func(ctx context.Context) error {
		return m.users.UpdateLockout(ctx, user.ID, state)
	}); err != nil {
		return LoginFailure{}, err
	}

	event := &telemetry.Event{
		Type:      telemetry.EventLoginFailed,
		UserID:    user.ID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Detail:    fmt.Sprintf("attempt %d", attempts),
	}
	if failure.Locked {
		log.Printf("session: user %s locked until %s after %d failed attempts", user.ID, failure.LockUntil.Format(time.RFC3339), attempts)
		m.metrics.Lockout(ctx)
		event.Type = telemetry.EventAccountLocked
	}
	telemetry.EmitAsync(m.events, event)
	return failure, nil
}

// DeleteSession removes the session holding accessToken. A missing session is not an error.
func (m *Manager) DeleteSession(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	var s *domain.SessionWithUser
	if err := m.withRetry(ctx, "find session", func(ctx context.Context) error {
		var err error
		s, err = m.sessions.FindByAccessToken(ctx, accessToken)
		return err
	}); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	return m.withRetry(ctx, "delete session", func(ctx context.Context) error {
		return m.sessions.Delete(ctx, s.ID)
	})
}
