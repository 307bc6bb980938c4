package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"study-abroad-portal/backend/internal/ratelimit"
	"study-abroad-portal/backend/internal/server/httpx"
)

// limiterDownLog keeps a Redis outage from logging once per request.
var limiterDownLog = rate.Sometimes{First: 1, Interval: 30 * time.Second}

// RateLimit applies limiter to /api/ requests keyed by client IP. Limiter errors allow the request.
func RateLimit(limiter ratelimit.Limiter, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), ClientIP(r))
			if err != nil {
				limiterDownLog.Do(func() { log.Printf("ratelimit: limiter unavailable, allowing requests: %v", err) })
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.incRateLimited()
				httpx.WriteError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
