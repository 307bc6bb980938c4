package service

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"study-abroad-portal/backend/internal/security"
	"study-abroad-portal/backend/internal/session/domain"
	"study-abroad-portal/backend/internal/telemetry"
)

// touchTimeout bounds the detached lastActivity update after a successful validation.
const touchTimeout = 5 * time.Second

// Outcome is the result class of ValidateSession.
type Outcome string

const (
	OutcomeInvalid Outcome = "invalid"
	OutcomeExpired Outcome = "expired"
	OutcomeValid   Outcome = "valid"
)

// Mode says how a valid result was established.
type Mode string

const (
	// ModeStore means the session row was found and checked.
	ModeStore Mode = "store"
	// ModeJWTFallback means the store was unreachable and only the token signature and claims were checked.
	ModeJWTFallback Mode = "jwt-fallback"
)

// Identity is the authenticated principal returned by validation and refresh.
type Identity struct {
	UserID          string `json:"userId"`
	Role            string `json:"role"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"isEmailVerified"`
}

// Validation is the tagged result of ValidateSession. Identity is set only when Outcome is OutcomeValid;
// Error and Status only when it is OutcomeExpired.
type Validation struct {
	Outcome   Outcome
	Mode      Mode
	Identity  *Identity
	SessionID string
	Error     string
	Status    int
}

// Valid reports whether the access token authenticated a user.
func (v Validation) Valid() bool { return v.Outcome == OutcomeValid && v.Identity != nil }

// RefreshResult is the new token pair and identity after a successful rotation.
type RefreshResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Identity
}

// Validator checks access tokens against the session store and rotates refresh tokens.
type Validator struct {
	sessions SessionRepo
	tokens   *security.TokenCodec
	events   telemetry.EventEmitter
	metrics  *telemetry.AuthMetrics
	now      func() time.Time
}

// NewValidator returns a Validator. events and metrics may be nil.
func NewValidator(sessions SessionRepo, tokens *security.TokenCodec, events telemetry.EventEmitter, metrics *telemetry.AuthMetrics) *Validator {
	return &Validator{
		sessions: sessions,
		tokens:   tokens,
		events:   events,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateSession verifies accessToken and checks its session row. An unverifiable token, a missing row,
// an unverified or locked user, or an expired row all yield OutcomeInvalid; callers then try the refresh path.
// When the store cannot be queried the verified claims are trusted and the result carries ModeJWTFallback.
func (v *Validator) ValidateSession(ctx context.Context, accessToken string) Validation {
	claims, err := v.tokens.Verify(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			v.metrics.Validation(ctx, string(ModeStore), telemetry.OutcomeExpired)
			return Validation{Outcome: OutcomeExpired, Error: "Access token expired", Status: http.StatusUnauthorized}
		}
		return v.invalid(ctx)
	}
	if claims.TokenType != security.TokenTypeAccess {
		return v.invalid(ctx)
	}

	row, err := v.sessions.FindByAccessToken(ctx, accessToken)
	if err != nil {
		return v.fallback(ctx, claims, err)
	}
	now := v.now()
	if row == nil || row.User == nil || !row.User.IsEmailVerified || row.User.IsLocked || !row.ActiveAt(now) {
		return v.invalid(ctx)
	}

	v.touchAsync(row.ID)
	v.metrics.Validation(ctx, string(ModeStore), telemetry.OutcomeValid)
	return Validation{
		Outcome:   OutcomeValid,
		Mode:      ModeStore,
		SessionID: row.ID,
		Identity: &Identity{
			UserID:          row.User.ID,
			Role:            string(row.User.Role),
			Email:           row.User.Email,
			IsEmailVerified: row.User.IsEmailVerified,
		},
	}
}

func (v *Validator) invalid(ctx context.Context) Validation {
	v.metrics.Validation(ctx, string(ModeStore), telemetry.OutcomeInvalid)
	return Validation{Outcome: OutcomeInvalid}
}

// fallback trusts the verified claims when the store is unreachable. Revocation is not observed in this mode.
func (v *Validator) fallback(ctx context.Context, claims *security.Claims, cause error) Validation {
	log.Printf("session: store lookup failed, falling back to token-only validation for user %s: %v", claims.UserID, cause)
	v.metrics.Validation(ctx, string(ModeJWTFallback), telemetry.OutcomeValid)
	telemetry.EmitAsync(v.events, &telemetry.Event{
		Type:   telemetry.EventValidationDegraded,
		UserID: claims.UserID,
		Detail: "session store unavailable",
	})
	return Validation{
		Outcome: OutcomeValid,
		Mode:    ModeJWTFallback,
		Identity: &Identity{
			UserID: claims.UserID,
			Role:   claims.Role,
			Email:  claims.Email,
		},
	}
}

func (v *Validator) touchAsync(sessionID string) {
	at := v.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := v.sessions.Update(ctx, sessionID, domain.Touch(at)); err != nil {
			log.Printf("session: lastActivity update for %s failed: %v", sessionID, err)
		}
	}()
}

// RefreshSessionTokens exchanges a refresh token for a brand-new access and refresh pair stored on the same
// session row. The presented token stops working once the rotation is persisted. Any failure, including
// store errors, returns (nil, false).
func (v *Validator) RefreshSessionTokens(ctx context.Context, refreshToken string) (*RefreshResult, bool) {
	res, ok := v.refresh(ctx, refreshToken)
	v.metrics.Refresh(ctx, ok)
	return res, ok
}

func (v *Validator) refresh(ctx context.Context, refreshToken string) (*RefreshResult, bool) {
	claims, err := v.tokens.Verify(refreshToken)
	if err != nil || claims.TokenType != security.TokenTypeRefresh {
		return nil, false
	}
	row, err := v.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		log.Printf("session: refresh lookup failed: %v", err)
		return nil, false
	}
	now := v.now()
	if row == nil || row.User == nil || !row.User.IsEmailVerified || row.User.IsLocked {
		return nil, false
	}

	data := security.SessionData{UserID: row.User.ID, Role: string(row.User.Role), Email: row.User.Email}
	access, accessExp, err := v.tokens.SignAccess(data)
	if err != nil {
		log.Printf("session: refresh signing failed: %v", err)
		return nil, false
	}
	refresh, refreshExp, err := v.tokens.SignRefresh(data)
	if err != nil {
		log.Printf("session: refresh signing failed: %v", err)
		return nil, false
	}
	rotated, err := v.sessions.Rotate(ctx, row.ID, refreshToken, domain.Rotation(access, refresh, accessExp, now))
	if err != nil {
		log.Printf("session: refresh rotation for %s failed: %v", row.ID, err)
		return nil, false
	}
	if !rotated {
		// A concurrent refresh with the same token won; the presented token is already spent.
		return nil, false
	}

	telemetry.EmitAsync(v.events, &telemetry.Event{
		Type:      telemetry.EventSessionRefreshed,
		UserID:    row.User.ID,
		SessionID: row.ID,
	})
	return &RefreshResult{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		Identity: Identity{
			UserID:          row.User.ID,
			Role:            string(row.User.Role),
			Email:           row.User.Email,
			IsEmailVerified: row.User.IsEmailVerified,
		},
	}, true
}
