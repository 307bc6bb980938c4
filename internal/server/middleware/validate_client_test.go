package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidationClient_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		handler   func(calls int32) (int, string)
		wantAuth  bool
		wantErr   bool
		wantCalls int32
	}{
		{
			name:      "valid",
			handler:   func(int32) (int, string) { return 200, `{"userId":"u1","role":"USER","email":"a@example.com","isEmailVerified":true}` },
			wantAuth:  true,
			wantCalls: 1,
		},
		{
			name:      "401 is definitive",
			handler:   func(int32) (int, string) { return 401, `{"error":"Access token expired","status":401}` },
			wantCalls: 1,
		},
		{
			name: "5xx then success",
			handler: func(calls int32) (int, string) {
				if calls < 3 {
					return 503, `{}`
				}
				return 200, `{"userId":"u1","role":"ADMIN"}`
			},
			wantAuth:  true,
			wantCalls: 3,
		},
		{
			name:      "5xx exhausted",
			handler:   func(int32) (int, string) { return 500, `{}` },
			wantErr:   true,
			wantCalls: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				if r.Method != http.MethodPost || r.URL.Path != ValidatePath {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				if c, err := r.Cookie("access_token"); err != nil || c.Value != "tok" {
					t.Errorf("cookie not forwarded: %v", err)
				}
				code, body := tt.handler(n)
				w.WriteHeader(code)
				w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewValidationClient(srv.URL, 3, time.Millisecond)
			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			req.AddCookie(&http.Cookie{Name: "access_token", Value: "tok"})
			res, err := c.Check(context.Background(), req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && res.Authenticated != tt.wantAuth {
				t.Errorf("authenticated = %v, want %v", res.Authenticated, tt.wantAuth)
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestValidationClient_ReturnsSetCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "fresh", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "fresh-r", Path: "/"})
		w.Header().Set("X-Session-Validation", "refreshed")
		w.Write([]byte(`{"userId":"u1","role":"USER"}`))
	}))
	defer srv.Close()

	res, err := NewValidationClient(srv.URL, 1, 0).Check(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SetCookies) != 2 || res.Mode != "refreshed" {
		t.Errorf("result = %+v", res)
	}
}

func TestValidationClient_NetworkErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewValidationClient(url, 3, time.Millisecond)
	start := time.Now()
	if _, err := c.Check(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil)); err == nil {
		t.Fatal("expected error for closed server")
	}
	if time.Since(start) < 2*time.Millisecond {
		t.Error("expected delays between attempts")
	}
}
