package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	healthhandler "study-abroad-portal/backend/internal/health/handler"
	identityhandler "study-abroad-portal/backend/internal/identity/handler"
	"study-abroad-portal/backend/internal/policy"
	"study-abroad-portal/backend/internal/policy/engine"
	"study-abroad-portal/backend/internal/ratelimit"
	"study-abroad-portal/backend/internal/server/middleware"
	sessionhandler "study-abroad-portal/backend/internal/session/handler"
	userhandler "study-abroad-portal/backend/internal/user/handler"
)

// Deps holds what the HTTP handlers need. Limiter may be nil to disable rate limiting.
type Deps struct {
	Policy     *policy.Policy
	Authorizer engine.Authorizer
	Checker    middleware.SessionChecker
	Limiter    ratelimit.Limiter
	Registry   *prometheus.Registry
	SignInPath string
	// Proxies decides when forwarding headers name the client. Nil trusts nobody.
	Proxies *middleware.TrustedProxies

	Session *sessionhandler.Handler
	Auth    *identityhandler.Handler
	Profile *userhandler.Handler
	Health  *healthhandler.Server
}

// NewPublicHandler returns the public handler. Requests pass, outermost first: request id, client IP
// resolution, logging, metrics, rate limiting, the routing guard, then the route.
func NewPublicHandler(d Deps) http.Handler {
	mux := http.NewServeMux()
	d.Session.Register(mux)
	d.Auth.Register(mux)
	d.Profile.Register(mux)
	mux.HandleFunc("GET /healthz", d.Health.Liveness)
	mux.HandleFunc("GET /readyz", d.Health.Readiness)
	mux.Handle("GET /metrics", middleware.Handler(d.Registry))

	metrics := middleware.NewMetrics(d.Registry)
	guard := middleware.NewGuard(d.Policy, d.Checker, d.Authorizer, d.SignInPath, metrics)
	return middleware.Chain(mux,
		middleware.RequestID,
		d.Proxies.Middleware,
		middleware.Logging,
		metrics.Instrument,
		middleware.RateLimit(d.Limiter, metrics),
		guard.Middleware,
	)
}

// NewInternalHandler serves only session validation for the guard's client. It is neither rate limited nor guarded.
func NewInternalHandler(session *sessionhandler.Handler) http.Handler {
	mux := http.NewServeMux()
	session.RegisterValidate(mux)
	return middleware.Chain(mux, middleware.RequestID, middleware.Logging)
}
