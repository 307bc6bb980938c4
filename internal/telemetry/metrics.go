package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Validation modes and outcomes recorded on auth.session.validations.
const (
	ModeStore       = "store"
	ModeJWTFallback = "jwt-fallback"

	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeExpired = "expired"
)

// AuthMetrics holds the counters recorded by the session lifecycle and validation services.
// A nil *AuthMetrics is valid and records nothing.
type AuthMetrics struct {
	validations metric.Int64Counter
	refreshes   metric.Int64Counter
	evictions   metric.Int64Counter
	lockouts    metric.Int64Counter
}

// NewAuthMetrics creates the auth counters on meter. A nil meter yields no-op instruments.
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	m := &AuthMetrics{}
	var err error
	if m.validations, err = meter.Int64Counter("auth.session.validations",
		metric.WithDescription("Session validations by mode and outcome")); err != nil {
		return nil, err
	}
	if m.refreshes, err = meter.Int64Counter("auth.session.refreshes",
		metric.WithDescription("Refresh token rotations by result")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("auth.session.evictions",
		metric.WithDescription("Sessions evicted by the concurrency cap")); err != nil {
		return nil, err
	}
	if m.lockouts, err = meter.Int64Counter("auth.login.lockouts",
		metric.WithDescription("Accounts locked after repeated failed logins")); err != nil {
		return nil, err
	}
	return m, nil
}

// Validation records one validation with its mode and outcome.
func (m *AuthMetrics) Validation(ctx context.Context, mode, outcome string) {
	if m == nil {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// Refresh records a refresh attempt; ok reports whether a new pair was issued.
func (m *AuthMetrics) Refresh(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "rotated"
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Evictions records n sessions evicted for the concurrency cap.
func (m *AuthMetrics) Evictions(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(ctx, int64(n))
}

// Lockout records an account lock.
func (m *AuthMetrics) Lockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockouts.Add(ctx, 1)
}
