package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"study-abroad-portal/backend/internal/user/domain"
)

const userColumns = `id, email, name, role, password_hash, is_email_verified, login_attempts, is_locked, lock_until, created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID,
		domain.NormalizeEmail(u.Email),
		nullString(u.Name),
		string(u.Role),
		u.PasswordHash,
		u.IsEmailVerified,
		u.LoginAttempts,
		u.IsLocked,
		timeToNullTime(u.LockUntil),
		u.CreatedAt,
		u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

// UpdateLockout writes the lockout fields. Missing users are not an error.
func (r *PostgresRepository) UpdateLockout(ctx context.Context, id string, state domain.LockoutState) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users
		SET login_attempts = $2, is_locked = $3, lock_until = $4, updated_at = $5
		WHERE id = $1`,
		id, state.LoginAttempts, state.IsLocked, timeToNullTime(state.LockUntil), time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u         domain.User
		name      sql.NullString
		role      string
		lockUntil sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &name, &role, &u.PasswordHash, &u.IsEmailVerified,
		&u.LoginAttempts, &u.IsLocked, &lockUntil, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Name = name.String
	u.Role = domain.Role(role)
	u.LockUntil = nullTimeToPtr(lockUntil)
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
