package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"study-abroad-portal/backend/internal/security"
	sessionrepo "study-abroad-portal/backend/internal/session/repository"
	"study-abroad-portal/backend/internal/telemetry"
	userdomain "study-abroad-portal/backend/internal/user/domain"
	userrepo "study-abroad-portal/backend/internal/user/repository"
)

// stepClock advances one second per call so consecutive sessions get distinct created_at values.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e *telemetry.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

// waitFor polls until an event of type typ has been emitted.
func (r *recordingEmitter) waitFor(t *testing.T, typ telemetry.EventType) telemetry.Event {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, e := range r.events {
			if e.Type == typ {
				r.mu.Unlock()
				return e
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s not emitted", typ)
	return telemetry.Event{}
}

type fixture struct {
	users    *userrepo.MemoryRepository
	sessions *sessionrepo.MemoryRepository
	tokens   *security.TokenCodec
	events   *recordingEmitter
	mgr      *Manager
	val      *Validator
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := userrepo.NewMemoryRepository()
	sessions := sessionrepo.NewMemoryRepository(users)
	tokens := security.NewTestTokenCodec()
	events := &recordingEmitter{}
	mgr := NewManager(sessions, users, tokens, testConfig(), events, nil)
	clock := &stepClock{t: time.Now().UTC()}
	mgr.now = clock.Now
	return &fixture{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		events:   events,
		mgr:      mgr,
		val:      NewValidator(sessions, tokens, events, nil),
	}
}

func (f *fixture) addUser(t *testing.T, id string, verified bool) *userdomain.User {
	t.Helper()
	u := &userdomain.User{
		ID:              id,
		Email:           id + "@example.com",
		Name:            "Student " + id,
		Role:            userdomain.RoleUser,
		PasswordHash:    "hash",
		IsEmailVerified: verified,
	}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) reload(t *testing.T, id string) *userdomain.User {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id)
	if err != nil || u == nil {
		t.Fatalf("reload user %s: %v", id, err)
	}
	return u
}

func dataFor(u *userdomain.User) security.SessionData {
	return security.SessionData{UserID: u.ID, Role: string(u.Role), Email: u.Email}
}
