package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"study-abroad-portal/backend/internal/session/domain"
	userdomain "study-abroad-portal/backend/internal/user/domain"
)

const sessionColumns = `s.id, s.user_id, s.session_token, s.refresh_token, s.expires, s.last_activity, s.user_agent, s.ip_address, s.created_at`

const joinedUserColumns = `u.id, u.email, u.name, u.role, u.is_email_verified, u.login_attempts, u.is_locked, u.lock_until`

type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// FindByAccessToken returns the session whose current access token is token, joined with its user, or nil if not found.
func (r *PostgresRepository) FindByAccessToken(ctx context.Context, token string) (*domain.SessionWithUser, error) {
	return r.findJoined(ctx, "s.session_token", token)
}

// FindByRefreshToken returns the session whose current refresh token is token, joined with its user, or nil if not found.
func (r *PostgresRepository) FindByRefreshToken(ctx context.Context, token string) (*domain.SessionWithUser, error) {
	return r.findJoined(ctx, "s.refresh_token", token)
}

func (r *PostgresRepository) findJoined(ctx context.Context, column, token string) (*domain.SessionWithUser, error) {
	q := `SELECT ` + sessionColumns + `, ` + joinedUserColumns + `
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE ` + column + ` = $1`
	var (
		out       domain.SessionWithUser
		u         userdomain.User
		ua, ip    sql.NullString
		name      sql.NullString
		role      string
		lockUntil sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, token).Scan(
		&out.ID, &out.UserID, &out.SessionToken, &out.RefreshToken, &out.Expires, &out.LastActivity, &ua, &ip, &out.CreatedAt,
		&u.ID, &u.Email, &name, &role, &u.IsEmailVerified, &u.LoginAttempts, &u.IsLocked, &lockUntil,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	out.UserAgent = ua.String
	out.IPAddress = ip.String
	u.Name = name.String
	u.Role = userdomain.Role(role)
	if lockUntil.Valid {
		t := lockUntil.Time
		u.LockUntil = &t
	}
	out.User = &u
	return &out, nil
}

// CountActiveForUser counts the user's sessions that have not expired.
func (r *PostgresRepository) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND expires > $2`,
		userID, r.now().UTC()).Scan(&n)
	return n, err
}

// FindOldestForUser returns the user's oldest active session by created_at, or nil if none.
func (r *PostgresRepository) FindOldestForUser(ctx context.Context, userID string) (*domain.Session, error) {
	var (
		s      domain.Session
		ua, ip sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s
		WHERE s.user_id = $1 AND s.expires > $2
		ORDER BY s.created_at ASC, s.id ASC
		LIMIT 1`, userID, r.now().UTC()).
		Scan(&s.ID, &s.UserID, &s.SessionToken, &s.RefreshToken, &s.Expires, &s.LastActivity, &ua, &ip, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.UserAgent = ua.String
	s.IPAddress = ip.String
	return &s, nil
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions
		(id, user_id, session_token, refresh_token, expires, last_activity, user_agent, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.SessionToken, s.RefreshToken, s.Expires, s.LastActivity,
		nullString(s.UserAgent), nullString(s.IPAddress), s.CreatedAt)
	return err
}

// Update applies the non-nil fields to the session with the given id. A missing row is not an error.
func (r *PostgresRepository) Update(ctx context.Context, id string, fields domain.UpdateFields) error {
	if fields.Empty() {
		return nil
	}
	set, args := setClause(fields, id)
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET `+set+` WHERE id = $1`, args...)
	return err
}

// Rotate applies fields only while the row still holds presentedRefresh as its refresh token.
// It reports false when another rotation got there first or the row is gone.
func (r *PostgresRepository) Rotate(ctx context.Context, id, presentedRefresh string, fields domain.UpdateFields) (bool, error) {
	if fields.Empty() {
		return false, nil
	}
	set, args := setClause(fields, id, presentedRefresh)
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET `+set+` WHERE id = $1 AND refresh_token = $2`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// setClause renders the non-nil fields as "col = $n" assignments numbered after the leading args.
func setClause(fields domain.UpdateFields, leading ...any) (string, []any) {
	var sets []string
	args := append([]any{}, leading...)
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if fields.SessionToken != nil {
		add("session_token", *fields.SessionToken)
	}
	if fields.RefreshToken != nil {
		add("refresh_token", *fields.RefreshToken)
	}
	if fields.Expires != nil {
		add("expires", *fields.Expires)
	}
	if fields.LastActivity != nil {
		add("last_activity", *fields.LastActivity)
	}
	return strings.Join(sets, ", "), args
}

// Delete removes the session with the given id. A missing row is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteAllForUser removes every session of the user and returns how many were deleted.
func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions that expired before the given time.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
