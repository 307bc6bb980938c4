package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"study-abroad-portal/backend/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestRateLimit_EleventhRequestGets429(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := RateLimit(ratelimit.NewLocalLimiter(10, 10*time.Second), metrics)(okHandler)

	for i := 1; i <= 10; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/universities", nil)
		req.RemoteAddr = "203.0.113.1:4000"
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/universities", nil)
	req.RemoteAddr = "203.0.113.1:4000"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request: status %d, want 429", rec.Code)
	}

	// Pages are not rate limited.
	page := httptest.NewRequest(http.MethodGet, "/universities", nil)
	page.RemoteAddr = "203.0.113.1:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, page)
	if rec.Code != http.StatusOK {
		t.Errorf("page status %d, want 200", rec.Code)
	}
}

func TestRateLimit_RotatingForwardedForDoesNotEscape(t *testing.T) {
	proxies, err := ParseTrustedProxies("10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	h := Chain(okHandler, proxies.Middleware, RateLimit(ratelimit.NewLocalLimiter(10, 10*time.Second), nil))

	codes := map[int]int{}
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/universities", nil)
		req.RemoteAddr = "203.0.113.1:4000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	if codes[http.StatusTooManyRequests] != 1 {
		t.Fatalf("status counts = %v, want the 11th request limited", codes)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(brokenLimiter{}, nil)(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when limiter fails", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := ulid.ParseStrict(got); err != nil {
		t.Fatalf("generated id %q is not a ULID: %v", got, err)
	}
	if rec.Header().Get(RequestIDHeader) != got {
		t.Error("response header should echo the id")
	}

	supplied := ulid.Make().String()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, supplied)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != supplied {
		t.Errorf("id = %q, want supplied %q", got, supplied)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == "<script>" {
		t.Error("malformed supplied id should be replaced")
	}
}

func TestMetrics_InstrumentAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := Chain(okHandler, m.Instrument, Logging)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/universities/42/courses", nil))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",route="/api/universities/42",status="200"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/":                          "/",
		"/dashboard/docs":            "/dashboard",
		"/api/auth/login":            "/api/auth/login",
		"/api/universities/42/x/y/z": "/api/universities/42",
	}
	for in, want := range tests {
		if got := routeLabel(in); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
