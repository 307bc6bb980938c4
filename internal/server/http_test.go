package server

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	healthhandler "study-abroad-portal/backend/internal/health/handler"
	identityhandler "study-abroad-portal/backend/internal/identity/handler"
	identityservice "study-abroad-portal/backend/internal/identity/service"
	"study-abroad-portal/backend/internal/policy"
	"study-abroad-portal/backend/internal/policy/engine"
	"study-abroad-portal/backend/internal/ratelimit"
	"study-abroad-portal/backend/internal/security"
	"study-abroad-portal/backend/internal/server/middleware"
	sessiondomain "study-abroad-portal/backend/internal/session/domain"
	sessionhandler "study-abroad-portal/backend/internal/session/handler"
	sessionrepo "study-abroad-portal/backend/internal/session/repository"
	sessionservice "study-abroad-portal/backend/internal/session/service"
	userdomain "study-abroad-portal/backend/internal/user/domain"
	userhandler "study-abroad-portal/backend/internal/user/handler"
	userrepo "study-abroad-portal/backend/internal/user/repository"
)

type stack struct {
	public   *httptest.Server
	internal *httptest.Server
	tokens   *security.TokenCodec
	users    *userrepo.MemoryRepository
	sessions *sessionrepo.MemoryRepository
}

func newStack(t *testing.T, limit int) *stack {
	t.Helper()
	ctx := context.Background()
	users := userrepo.NewMemoryRepository()
	sessions := sessionrepo.NewMemoryRepository(users)
	tokens := security.NewTestTokenCodec()
	hasher := security.NewHasher(4)
	cfg := sessionservice.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond

	for _, u := range []struct {
		id, email string
		role      userdomain.Role
	}{
		{"student-1", "student@example.com", userdomain.RoleUser},
		{"admin-1", "admin@example.com", userdomain.RoleAdmin},
	} {
		hash, _ := hasher.Hash("Passw0rd!")
		if err := users.Create(ctx, &userdomain.User{
			ID: u.id, Email: u.email, Name: u.id, Role: u.role, PasswordHash: hash, IsEmailVerified: true,
		}); err != nil {
			t.Fatal(err)
		}
	}

	mgr := sessionservice.NewManager(sessions, users, tokens, cfg, nil, nil)
	validator := sessionservice.NewValidator(sessions, tokens, nil, nil)
	cookies := sessionhandler.NewCookies(false)
	sessionH := sessionhandler.NewHandler(validator, users, cookies)

	internal := httptest.NewServer(NewInternalHandler(sessionH))
	t.Cleanup(internal.Close)

	p, err := policy.Compile(policy.DefaultTable())
	if err != nil {
		t.Fatal(err)
	}
	authz, err := engine.NewOPAAuthorizer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	public := httptest.NewServer(NewPublicHandler(Deps{
		Policy:     p,
		Authorizer: authz,
		Checker:    middleware.NewValidationClient(internal.URL, 3, time.Millisecond),
		Limiter:    ratelimit.NewLocalLimiter(limit, 10*time.Second),
		Registry:   prometheus.NewRegistry(),
		SignInPath: "/signin",
		Session:    sessionH,
		Auth:       identityhandler.NewHandler(identityservice.NewAuthService(users, mgr, hasher, nil, nil), mgr, cookies),
		Profile:    userhandler.NewHandler(users),
		Health:     healthhandler.NewServer(nil, authz),
	}))
	t.Cleanup(public.Close)

	return &stack{public: public, internal: internal, tokens: tokens, users: users, sessions: sessions}
}

// client returns an HTTP client with a cookie jar that does not follow redirects.
func (s *stack) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *stack) login(t *testing.T, c *http.Client, email string) {
	t.Helper()
	resp, err := c.Post(s.public.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"email":"`+email+`","password":"Passw0rd!"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
}

func get(t *testing.T, c *http.Client, u string) *http.Response {
	t.Helper()
	resp, err := c.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func TestPublicHandler_GuardFlow(t *testing.T) {
	s := newStack(t, 100)
	anon := s.client(t)

	if resp := get(t, anon, s.public.URL+"/api/profile"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous /api/profile = %d, want 401", resp.StatusCode)
	}
	resp := get(t, anon, s.public.URL+"/dashboard")
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(resp.Header.Get("Location"), "/signin?callbackUrl=") {
		t.Errorf("anonymous /dashboard = %d %q, want redirect to sign-in", resp.StatusCode, resp.Header.Get("Location"))
	}
	if resp := get(t, anon, s.public.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}

	student := s.client(t)
	s.login(t, student, "student@example.com")
	if resp := get(t, student, s.public.URL+"/api/profile"); resp.StatusCode != http.StatusOK {
		t.Errorf("student /api/profile = %d, want 200", resp.StatusCode)
	}
	if resp := get(t, student, s.public.URL+"/api/admin/users"); resp.StatusCode != http.StatusForbidden {
		t.Errorf("student /api/admin/users = %d, want 403", resp.StatusCode)
	}

	admin := s.client(t)
	s.login(t, admin, "admin@example.com")
	// The guard lets the admin through; the route itself is outside this service.
	if resp := get(t, admin, s.public.URL+"/api/admin/users"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("admin /api/admin/users = %d, want 404 from the mux", resp.StatusCode)
	}
}

func TestPublicHandler_ExpiredAccessIsRefreshedByGuard(t *testing.T) {
	s := newStack(t, 100)
	ctx := context.Background()

	past := s.tokens.WithClock(func() time.Time { return time.Now().Add(-25 * time.Hour) })
	mgr := sessionservice.NewManager(s.sessions, s.users, past, sessionservice.DefaultConfig(), nil, nil)
	issued, err := mgr.CreateSession(ctx, security.SessionData{UserID: "student-1", Role: "USER", Email: "student@example.com"}, sessionDevice(), false)
	if err != nil {
		t.Fatal(err)
	}

	c := s.client(t)
	base, _ := url.Parse(s.public.URL)
	c.Jar.SetCookies(base, []*http.Cookie{
		{Name: sessionhandler.CookieAccessToken, Value: issued.AccessToken, Path: "/"},
		{Name: sessionhandler.CookieRefreshToken, Value: issued.RefreshToken, Path: "/"},
	})

	resp := get(t, c, s.public.URL+"/api/profile")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/profile with expired access = %d, want 200 after refresh", resp.StatusCode)
	}
	var rotated string
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionhandler.CookieRefreshToken {
			rotated = ck.Value
		}
	}
	if rotated == "" || rotated == issued.RefreshToken {
		t.Fatal("guard should forward the rotated refresh cookie")
	}

	// The jar now holds the new pair, so the next request validates without another refresh.
	if resp := get(t, c, s.public.URL+"/api/profile"); resp.StatusCode != http.StatusOK {
		t.Errorf("second request = %d", resp.StatusCode)
	}
}

func TestPublicHandler_RateLimit(t *testing.T) {
	s := newStack(t, 10)
	c := s.client(t)
	for i := 1; i <= 10; i++ {
		if resp := get(t, c, s.public.URL+"/api/universities"); resp.StatusCode == http.StatusTooManyRequests {
			t.Fatalf("request %d rate limited", i)
		}
	}
	if resp := get(t, c, s.public.URL+"/api/universities"); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("11th request = %d, want 429", resp.StatusCode)
	}
	if resp := get(t, c, s.public.URL+"/universities"); resp.StatusCode == http.StatusTooManyRequests {
		t.Error("pages must not be rate limited")
	}
}

func TestInternalHandler_OnlyValidates(t *testing.T) {
	s := newStack(t, 100)
	resp, err := http.Post(s.internal.URL+"/api/auth/login", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("internal login = %d, want not served", resp.StatusCode)
	}
	resp, err = http.Post(s.internal.URL+middleware.ValidatePath, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("internal validate without cookies = %d, want 401", resp.StatusCode)
	}
}

func sessionDevice() sessiondomain.DeviceInfo {
	return sessiondomain.DeviceInfo{UserAgent: "test", IPAddress: "127.0.0.1"}
}
