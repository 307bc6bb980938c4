package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"study-abroad-portal/backend/internal/session/domain"
	userdomain "study-abroad-portal/backend/internal/user/domain"
	userrepo "study-abroad-portal/backend/internal/user/repository"
)

func newMemory(t *testing.T) *MemoryRepository {
	t.Helper()
	users := userrepo.NewMemoryRepository()
	if err := users.Create(context.Background(), &userdomain.User{ID: "u1", Email: "a@example.com", PasswordHash: "h", IsEmailVerified: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return NewMemoryRepository(users)
}

func TestMemoryRepository_LookupsAndRotation(t *testing.T) {
	r := newMemory(t)
	ctx := context.Background()
	now := time.Now()
	if err := r.Create(ctx, &domain.Session{ID: "s1", UserID: "u1", SessionToken: "a1", RefreshToken: "r1", Expires: now.Add(time.Hour), CreatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s, err := r.FindByAccessToken(ctx, "a1")
	if err != nil || s == nil || s.ID != "s1" || s.User == nil || s.User.Email != "a@example.com" {
		t.Fatalf("FindByAccessToken = %+v, %v", s, err)
	}

	if err := r.Update(ctx, "s1", domain.Rotation("a2", "r2", now.Add(2*time.Hour), now)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if old, _ := r.FindByRefreshToken(ctx, "r1"); old != nil {
		t.Fatal("superseded refresh token still resolves")
	}
	if cur, _ := r.FindByRefreshToken(ctx, "r2"); cur == nil || cur.SessionToken != "a2" {
		t.Fatalf("rotated session not found: %+v", cur)
	}
}

func TestMemoryRepository_CountAndOldest(t *testing.T) {
	r := newMemory(t)
	ctx := context.Background()
	now := time.Now()
	_ = r.Create(ctx, &domain.Session{ID: "expired", UserID: "u1", Expires: now.Add(-time.Minute), CreatedAt: now.Add(-3 * time.Hour)})
	_ = r.Create(ctx, &domain.Session{ID: "old", UserID: "u1", Expires: now.Add(time.Hour), CreatedAt: now.Add(-2 * time.Hour)})
	_ = r.Create(ctx, &domain.Session{ID: "new", UserID: "u1", Expires: now.Add(time.Hour), CreatedAt: now.Add(-time.Hour)})
	_ = r.Create(ctx, &domain.Session{ID: "other", UserID: "u2", Expires: now.Add(time.Hour), CreatedAt: now.Add(-5 * time.Hour)})

	n, err := r.CountActiveForUser(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("CountActiveForUser = %d, %v; want 2", n, err)
	}
	oldest, err := r.FindOldestForUser(ctx, "u1")
	if err != nil || oldest == nil || oldest.ID != "old" {
		t.Fatalf("FindOldestForUser = %+v, %v; want old", oldest, err)
	}

	purged, _ := r.DeleteExpired(ctx, now)
	if purged != 1 {
		t.Errorf("DeleteExpired = %d, want 1", purged)
	}
	deleted, _ := r.DeleteAllForUser(ctx, "u1")
	if deleted != 2 {
		t.Errorf("DeleteAllForUser = %d, want 2", deleted)
	}
	if len(r.ListForUser("u2")) != 1 {
		t.Error("other user's sessions should survive")
	}
}

func TestMemoryRepository_Unavailable(t *testing.T) {
	r := newMemory(t)
	ctx := context.Background()
	r.SetUnavailable(driver.ErrBadConn)

	if _, err := r.FindByAccessToken(ctx, "a"); !errors.Is(err, driver.ErrBadConn) {
		t.Errorf("FindByAccessToken: want ErrBadConn, got %v", err)
	}
	if _, err := r.CountActiveForUser(ctx, "u1"); !errors.Is(err, driver.ErrBadConn) {
		t.Errorf("CountActiveForUser: want ErrBadConn, got %v", err)
	}
	if err := r.Create(ctx, &domain.Session{ID: "s"}); !errors.Is(err, driver.ErrBadConn) {
		t.Errorf("Create: want ErrBadConn, got %v", err)
	}

	r.SetUnavailable(nil)
	if _, err := r.CountActiveForUser(ctx, "u1"); err != nil {
		t.Errorf("after recovery: %v", err)
	}
}

func TestMemoryRepository_RotateComparesRefreshToken(t *testing.T) {
	r := newMemory(t)
	ctx := context.Background()
	now := time.Now()
	if err := r.Create(ctx, &domain.Session{ID: "s1", UserID: "u1", SessionToken: "a1", RefreshToken: "r1", Expires: now.Add(time.Hour), CreatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := r.Rotate(ctx, "s1", "r1", domain.Rotation("a2", "r2", now.Add(2*time.Hour), now))
	if err != nil || !ok {
		t.Fatalf("first Rotate = %v, %v; want true", ok, err)
	}
	ok, err = r.Rotate(ctx, "s1", "r1", domain.Rotation("a3", "r3", now.Add(2*time.Hour), now))
	if err != nil || ok {
		t.Fatalf("second Rotate with spent token = %v, %v; want false", ok, err)
	}
	if cur, _ := r.FindByRefreshToken(ctx, "r2"); cur == nil || cur.SessionToken != "a2" {
		t.Fatalf("losing rotation overwrote the row: %+v", cur)
	}
	if ok, _ := r.Rotate(ctx, "missing", "r2", domain.Rotation("a4", "r4", now, now)); ok {
		t.Error("Rotate on a missing row should report false")
	}
}
