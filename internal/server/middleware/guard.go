package middleware

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"study-abroad-portal/backend/internal/policy"
	"study-abroad-portal/backend/internal/policy/engine"
	"study-abroad-portal/backend/internal/server/httpx"
)

// Identity headers set on requests that pass the guard. Client-supplied values are always removed.
const (
	HeaderUserID   = "x-user-id"
	HeaderUserRole = "x-user-role"
)

// Guard classifies each request with the routing policy, resolves its session through the checker
// and enforces role restrictions through the authorizer.
type Guard struct {
	policy     *policy.Policy
	checker    SessionChecker
	authz      engine.Authorizer
	signInPath string
	metrics    *Metrics
}

// NewGuard returns a Guard. metrics may be nil.
func NewGuard(p *policy.Policy, checker SessionChecker, authz engine.Authorizer, signInPath string, metrics *Metrics) *Guard {
	if signInPath == "" {
		signInPath = "/signin"
	}
	return &Guard{policy: p, checker: checker, authz: authz, signInPath: signInPath, metrics: metrics}
}

// Middleware wraps next with the guard.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderUserRole)

		d := g.policy.Classify(r.Method, r.URL.Path)
		if d.Class == policy.ClassPublic {
			next.ServeHTTP(w, r)
			return
		}

		res, err := g.checker.Check(r.Context(), r)
		if err != nil {
			log.Printf("guard: %s %s: %v", r.Method, r.URL.Path, err)
			g.unauthenticated(w, r, d)
			return
		}
		for _, c := range res.SetCookies {
			w.Header().Add("Set-Cookie", c)
		}
		if !res.Authenticated {
			g.unauthenticated(w, r, d)
			return
		}

		allowed, err := g.authz.Authorize(r.Context(), engine.Request{
			Role:         res.Identity.Role,
			AllowedRoles: d.AllowedRoles,
			Method:       r.Method,
			Path:         r.URL.Path,
		})
		if err != nil {
			log.Printf("guard: authorization error for %s %s: %v", r.Method, r.URL.Path, err)
		}
		if err != nil || !allowed {
			g.metrics.incDenied("forbidden")
			httpx.WriteError(w, http.StatusForbidden, "Forbidden")
			return
		}

		applyRefreshedCookies(r, res.SetCookies)
		r.Header.Set(HeaderUserID, res.Identity.UserID)
		r.Header.Set(HeaderUserRole, res.Identity.Role)
		ctx := WithIdentity(r.Context(), res.Identity.UserID, res.Identity.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Guard) unauthenticated(w http.ResponseWriter, r *http.Request, d policy.Decision) {
	g.metrics.incDenied("unauthenticated")
	if d.API {
		httpx.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	target := g.signInPath + "?callbackUrl=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

// applyRefreshedCookies rewrites the request's Cookie header with values from a refresh so downstream
// handlers see the current token pair.
func applyRefreshedCookies(r *http.Request, setCookies []string) {
	if len(setCookies) == 0 {
		return
	}
	fresh := make(map[string]string, len(setCookies))
	for _, line := range setCookies {
		c, err := http.ParseSetCookie(line)
		if err != nil || c.MaxAge < 0 {
			continue
		}
		fresh[c.Name] = c.Value
	}
	if len(fresh) == 0 {
		return
	}
	var parts []string
	for _, c := range r.Cookies() {
		if v, ok := fresh[c.Name]; ok {
			parts = append(parts, c.Name+"="+v)
			delete(fresh, c.Name)
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	for name, v := range fresh {
		parts = append(parts, name+"="+v)
	}
	r.Header.Set("Cookie", strings.Join(parts, "; "))
}
