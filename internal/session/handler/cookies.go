package handler

import (
	"net/http"
	"strings"
	"time"
)

// Session cookie names. The identity cookies mirror the access token's claims for the front end.
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
	CookieUserID       = "x-user-id"
	CookieUserRole     = "x-user-role"
)

// Cookies writes and clears the session cookies. All are HttpOnly, SameSite=Strict and scoped to /.
type Cookies struct {
	Secure        bool
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

// NewCookies returns cookie settings with a 1 day access lifetime and a 7 day refresh lifetime.
func NewCookies(secure bool) Cookies {
	return Cookies{Secure: secure, AccessMaxAge: 24 * time.Hour, RefreshMaxAge: 7 * 24 * time.Hour}
}

// TokenPair is what Set writes.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Role         string
}

// Set writes all four session cookies.
func (c Cookies) Set(w http.ResponseWriter, p TokenPair) {
	access := int(c.AccessMaxAge.Seconds())
	http.SetCookie(w, c.cookie(CookieAccessToken, p.AccessToken, access))
	http.SetCookie(w, c.cookie(CookieRefreshToken, p.RefreshToken, int(c.RefreshMaxAge.Seconds())))
	http.SetCookie(w, c.cookie(CookieUserID, p.UserID, access))
	http.SetCookie(w, c.cookie(CookieUserRole, p.Role, access))
}

// Clear expires all four session cookies.
func (c Cookies) Clear(w http.ResponseWriter) {
	for _, name := range []string{CookieAccessToken, CookieRefreshToken, CookieUserID, CookieUserRole} {
		http.SetCookie(w, c.cookie(name, "", -1))
	}
}

func (c Cookies) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// AccessToken returns the access token from the access_token cookie, or from an Authorization: Bearer header.
func AccessToken(r *http.Request) string {
	if c, err := r.Cookie(CookieAccessToken); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RefreshToken returns the refresh_token cookie value, or "".
func RefreshToken(r *http.Request) string {
	if c, err := r.Cookie(CookieRefreshToken); err == nil {
		return c.Value
	}
	return ""
}
