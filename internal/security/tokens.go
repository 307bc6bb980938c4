package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, carries a bad signature, or cannot be verified.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when an otherwise well-formed token is past its exp.
	// It matches ErrInvalidToken under errors.Is.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)
	// ErrTokenGeneration is returned when a token cannot be signed (e.g. no secret configured).
	ErrTokenGeneration = errors.New("token generation failed")
)

// TokenType distinguishes access tokens from refresh tokens. It is carried in the claims
// and checked by callers, not by the codec.
type TokenType string

const (
	TokenTypeAccess  TokenType = "ACCESS"
	TokenTypeRefresh TokenType = "REFRESH"
)

// SessionData is the identity payload signed into every token.
type SessionData struct {
	UserID string
	Role   string
	Email  string
}

// Claims holds the JWT claims for both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Email     string    `json:"email"`
	TokenType TokenType `json:"tokenType"`
}

// SessionData returns the identity portion of the claims.
func (c *Claims) SessionData() SessionData {
	return SessionData{UserID: c.UserID, Role: c.Role, Email: c.Email}
}

// TokenCodec signs and verifies HS256 tokens with a single process-wide secret.
// It is immutable after construction and safe for concurrent use.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec returns a codec that signs with secret. The secret is copied.
// An empty secret is accepted here so wiring stays simple, but every sign and verify then fails.
func NewTokenCodec(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &TokenCodec{
		secret:     s,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock returns a copy of the codec that reads time from now. Used by tests to mint
// tokens in the past.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccess issues an access token for data. Returns the token and its expiry.
func (c *TokenCodec) SignAccess(data SessionData) (string, time.Time, error) {
	return c.sign(data, TokenTypeAccess, c.accessTTL)
}

// SignRefresh issues a refresh token for data. Returns the token and its expiry.
func (c *TokenCodec) SignRefresh(data SessionData) (string, time.Time, error) {
	return c.sign(data, TokenTypeRefresh, c.refreshTTL)
}

func (c *TokenCodec) sign(data SessionData, kind TokenType, ttl time.Duration) (string, time.Time, error) {
	if len(c.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: signing secret not configured", ErrTokenGeneration)
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   data.UserID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    data.UserID,
		Role:      data.Role,
		Email:     data.Email,
		TokenType: kind,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	// Expiry is reported at second precision to match the exp claim.
	return token, claims.ExpiresAt.Time, nil
}

// Verify parses and validates tokenString (signature, algorithm, exp, iss).
// Returns ErrTokenExpired for expired tokens and ErrInvalidToken for every other failure.
// The token kind is not checked; callers compare Claims.TokenType themselves.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	if len(c.secret) == 0 || tokenString == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		// jwt/v5 validates claims only after the signature checks out, so an expiry error
		// here always belongs to a genuinely signed token.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
