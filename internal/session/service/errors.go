package service

import (
	"errors"
	"net/http"
)

// ErrorType classifies an AuthenticationError for clients.
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeAuthorization  ErrorType = "AUTHORIZATION_ERROR"
	ErrorTypeRateLimit      ErrorType = "RATE_LIMIT_ERROR"
	ErrorTypeVerification   ErrorType = "VERIFICATION_ERROR"
)

// ErrStoreUnavailable is wrapped by the 503 error returned when store retries are exhausted.
var ErrStoreUnavailable = errors.New("session store unavailable")

// AuthenticationError is the error returned across the session service boundary. Status is the HTTP status
// handlers should answer with. Err, when set, is the underlying cause and is never shown to clients.
type AuthenticationError struct {
	Type    ErrorType
	Status  int
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return string(e.Type) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Type) + ": " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AsAuthenticationError extracts an AuthenticationError from err. Any other error becomes a generic 500.
func AsAuthenticationError(err error) *AuthenticationError {
	if err == nil {
		return nil
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae
	}
	return internalError("internal error", err)
}

// NewAuthenticationError returns an AuthenticationError for callers outside this package.
func NewAuthenticationError(typ ErrorType, status int, msg string, err error) *AuthenticationError {
	return &AuthenticationError{Type: typ, Status: status, Message: msg, Err: err}
}

func unauthenticated(msg string) *AuthenticationError {
	return &AuthenticationError{Type: ErrorTypeAuthentication, Status: http.StatusUnauthorized, Message: msg}
}

func locked(msg string) *AuthenticationError {
	return &AuthenticationError{Type: ErrorTypeRateLimit, Status: http.StatusForbidden, Message: msg}
}

func internalError(msg string, err error) *AuthenticationError {
	return &AuthenticationError{Type: ErrorTypeAuthentication, Status: http.StatusInternalServerError, Message: msg, Err: err}
}

func unavailable(op string, err error) *AuthenticationError {
	return &AuthenticationError{
		Type:    ErrorTypeAuthentication,
		Status:  http.StatusServiceUnavailable,
		Message: "authentication temporarily unavailable",
		Err:     errors.Join(ErrStoreUnavailable, errors.New(op), err),
	}
}
