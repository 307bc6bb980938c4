// Package service implements password sign-in and sign-up on top of the session lifecycle manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"study-abroad-portal/backend/internal/notify"
	"study-abroad-portal/backend/internal/security"
	sessiondomain "study-abroad-portal/backend/internal/session/domain"
	sessionservice "study-abroad-portal/backend/internal/session/service"
	"study-abroad-portal/backend/internal/telemetry"
	userdomain "study-abroad-portal/backend/internal/user/domain"
	userrepo "study-abroad-portal/backend/internal/user/repository"
)

// Sentinel errors for sign-up; the handler maps them to 409 and 400.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidInput           = errors.New("invalid input")
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountLocked      = "Account is temporarily locked. Try again later"
	msgEmailNotVerified   = "Please verify your email before signing in"
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// SessionManager is the part of the lifecycle manager used at sign-in.
type SessionManager interface {
	CreateSession(ctx context.Context, data security.SessionData, device sessiondomain.DeviceInfo, isSignup bool) (*sessionservice.IssuedSession, error)
	RecordFailedLogin(ctx context.Context, user *userdomain.User, device sessiondomain.DeviceInfo) (sessionservice.LoginFailure, error)
}

// AuthResult is a new session and the user it belongs to.
type AuthResult struct {
	Session *sessionservice.IssuedSession
	User    *userdomain.User
}

// AuthService implements password login and sign-up.
type AuthService struct {
	users    UserRepo
	sessions SessionManager
	hasher   *security.Hasher
	sender   notify.Sender
	events   telemetry.EventEmitter
	now      func() time.Time
}

// NewAuthService returns an AuthService. sender and events may be nil.
func NewAuthService(users UserRepo, sessions SessionManager, hasher *security.Hasher, sender notify.Sender, events telemetry.EventEmitter) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		sender:   sender,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login checks email and password, records failures toward the lockout, and creates a session on success.
// Errors are *sessionservice.AuthenticationError.
func (s *AuthService) Login(ctx context.Context, email, password string, device sessiondomain.DeviceInfo) (*AuthResult, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, credentialsError()
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, sessionservice.NewAuthenticationError(sessionservice.ErrorTypeAuthentication,
			http.StatusServiceUnavailable, "authentication temporarily unavailable", err)
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		telemetry.EmitAsync(s.events, &telemetry.Event{
			Type:      telemetry.EventLoginFailed,
			IPAddress: device.IPAddress,
			UserAgent: device.UserAgent,
			Detail:    "unknown email",
		})
		return nil, credentialsError()
	}
	if user.LockedAt(s.now()) {
		return nil, sessionservice.NewAuthenticationError(sessionservice.ErrorTypeRateLimit, http.StatusForbidden, msgAccountLocked, nil)
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		failure, ferr := s.sessions.RecordFailedLogin(ctx, user, device)
		if ferr != nil {
			return nil, ferr
		}
		return nil, failure.Err()
	}
	if !user.IsEmailVerified {
		return nil, sessionservice.NewAuthenticationError(sessionservice.ErrorTypeVerification, http.StatusForbidden, msgEmailNotVerified, nil)
	}

	issued, err := s.sessions.CreateSession(ctx, sessionData(user), device, false)
	if err != nil {
		return nil, err
	}
	log.Printf("identity: user %s signed in from %s", user.ID, device.IPAddress)
	telemetry.EmitAsync(s.events, &telemetry.Event{
		Type:      telemetry.EventLoginSucceeded,
		UserID:    user.ID,
		SessionID: issued.Session.ID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})
	notify.SendAsync(s.sender, notify.LoginNotice{
		Email:     user.Email,
		Name:      user.Name,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		At:        issued.Session.CreatedAt,
	})
	return &AuthResult{Session: issued, User: user}, nil
}

// Signup creates an unverified USER account and its first session.
func (s *AuthService) Signup(ctx context.Context, email, password, name string, device sessiondomain.DeviceInfo) (*AuthResult, error) {
	email = userdomain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         userdomain.RoleUser,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	issued, err := s.sessions.CreateSession(ctx, sessionData(user), device, true)
	if err != nil {
		return nil, err
	}
	log.Printf("identity: user %s signed up", user.ID)
	return &AuthResult{Session: issued, User: user}, nil
}

func sessionData(u *userdomain.User) security.SessionData {
	return security.SessionData{UserID: u.ID, Role: string(u.Role), Email: u.Email}
}

func credentialsError() error {
	return sessionservice.NewAuthenticationError(sessionservice.ErrorTypeAuthentication, http.StatusUnauthorized, msgInvalidCredentials, nil)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if len(password) > 72 {
		return errors.New("password must be at most 72 bytes")
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasLetter || !hasNumber {
		return errors.New("password must contain a letter and a number")
	}
	return nil
}
