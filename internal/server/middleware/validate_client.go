package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ValidatePath is the session-validation endpoint the guard calls.
const ValidatePath = "/api/session/validateSession"

// SessionIdentity is the identity returned by the validation endpoint.
type SessionIdentity struct {
	UserID          string `json:"userId"`
	Role            string `json:"role"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"isEmailVerified"`
}

// CheckResult is the outcome of one validation call. SetCookies holds any Set-Cookie headers the endpoint
// returned (a refresh) and must be forwarded to the client.
type CheckResult struct {
	Authenticated bool
	Identity      SessionIdentity
	Mode          string
	SetCookies    []string
}

// SessionChecker resolves the session carried by an incoming request.
type SessionChecker interface {
	Check(ctx context.Context, r *http.Request) (*CheckResult, error)
}

// ValidationClient calls the validation endpoint over HTTP with the request's cookies.
// Network failures and 5xx answers are retried; 401 is definitive.
type ValidationClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Attempts   int
	Delay      time.Duration
}

// NewValidationClient returns a client for the endpoint at baseURL making up to attempts calls delay apart.
func NewValidationClient(baseURL string, attempts int, delay time.Duration) *ValidationClient {
	if attempts < 1 {
		attempts = 1
	}
	return &ValidationClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Attempts:   attempts,
		Delay:      delay,
	}
}

var errRetryable = errors.New("validation endpoint unavailable")

// Check validates the session cookies on r.
func (c *ValidationClient) Check(ctx context.Context, r *http.Request) (*CheckResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		res, err := c.call(ctx, r)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == c.Attempts {
			break
		}
		log.Printf("guard: session validation attempt %d/%d failed: %v", attempt, c.Attempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Delay):
		}
	}
	return nil, fmt.Errorf("session validation failed after %d attempts: %w", c.Attempts, lastErr)
}

func (c *ValidationClient) call(ctx context.Context, r *http.Request) (*CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+ValidatePath, nil)
	if err != nil {
		return nil, err
	}
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if ua := r.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("X-Forwarded-For", ClientIP(r))
	if id := GetRequestID(r.Context()); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &CheckResult{
		SetCookies: resp.Header.Values("Set-Cookie"),
		Mode:       resp.Header.Get("X-Session-Validation"),
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&res.Identity); err != nil {
			return nil, fmt.Errorf("decode validation response: %w", err)
		}
		res.Authenticated = res.Identity.UserID != ""
		return res, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	default:
		return res, nil
	}
}
