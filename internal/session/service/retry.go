package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// withRetry runs fn, retrying transient store errors with exponential backoff (base, 2*base, ...).
// Exhausted retries yield a 503 AuthenticationError; non-transient errors a 500.
func (m *Manager) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := m.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := m.cfg.RetryBaseDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !isTransient(err) {
			return internalError("session store error", errors.Join(errors.New(op), err))
		}
		if attempt == attempts {
			break
		}
		log.Printf("session: %s failed (attempt %d/%d), retrying in %v: %v", op, attempt, attempts, delay, err)
		select {
		case <-ctx.Done():
			return unavailable(op, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	log.Printf("session: %s failed after %d attempts: %v", op, attempts, err)
	return unavailable(op, err)
}

// isTransient reports whether err is a connectivity failure worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx connection exceptions, admin shutdown, too many connections.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "53300"
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
