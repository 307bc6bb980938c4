// Package telemetry defines security events and auth metrics emitted by the session services.
package telemetry

import (
	"context"
	"time"
)

// EventType names a security-relevant event.
type EventType string

const (
	EventLoginSucceeded      EventType = "login_succeeded"
	EventLoginFailed         EventType = "login_failed"
	EventAccountLocked       EventType = "account_locked"
	EventSessionEvicted      EventType = "session_evicted"
	EventSessionsInvalidated EventType = "sessions_invalidated"
	EventSessionRefreshed    EventType = "session_refreshed"
	EventValidationDegraded  EventType = "validation_degraded"
)

// Event is a single security event. Empty fields are omitted on export.
type Event struct {
	Type      EventType
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
	// Detail is a short free-form reason, never a token or password.
	Detail    string
	CreatedAt time.Time
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
