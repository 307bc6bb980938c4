package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"study-abroad-portal/backend/internal/user/domain"
)

var userCols = []string{"id", "email", "name", "role", "password_hash", "is_email_verified",
	"login_attempts", "is_locked", "lock_until", "created_at", "updated_at"}

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestPostgresRepository_GetByID(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	lockUntil := now.Add(15 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@example.com", "Ada", "ADMIN", "hash", true, 5, true, lockUntil, now, now))

	u, err := repo.GetByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u == nil {
		t.Fatal("GetByID returned nil user")
	}
	if u.Role != domain.RoleAdmin || u.Name != "Ada" || !u.IsEmailVerified {
		t.Errorf("unexpected user: %+v", u)
	}
	if u.LoginAttempts != 5 || !u.IsLocked || u.LockUntil == nil || !u.LockUntil.Equal(lockUntil) {
		t.Errorf("lockout fields not mapped: %+v", u.Lockout())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_GetByEmail_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email = $1`)).
		WithArgs("missing@example.com").
		WillReturnRows(sqlmock.NewRows(userCols))

	u, err := repo.GetByEmail(context.Background(), "  Missing@Example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u != nil {
		t.Fatalf("GetByEmail: want nil for missing row, got %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_GetByID_DBError(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).WillReturnError(errors.New("connection refused"))

	if _, err := repo.GetByID(context.Background(), "u1"); err == nil {
		t.Fatal("GetByID should surface database errors")
	}
}

func TestPostgresRepository_Create(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("u1", "a@example.com", sqlmock.AnyArg(), "USER", "hash", false, 0, false, sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &domain.User{
		ID: "u1", Email: "A@example.com", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &domain.User{ID: "u1", Email: "a@example.com", PasswordHash: "hash"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("Create duplicate: want ErrDuplicateEmail, got %v", err)
	}
}

func TestPostgresRepository_UpdateLockout(t *testing.T) {
	repo, mock := newMock(t)
	until := time.Now().Add(15 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs("u1", 5, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateLockout(context.Background(), "u1", domain.LockoutState{LoginAttempts: 5, IsLocked: true, LockUntil: &until})
	if err != nil {
		t.Fatalf("UpdateLockout: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
