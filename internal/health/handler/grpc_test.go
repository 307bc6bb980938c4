package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		pinger  Pinger
		policy  PolicyChecker
		wantErr bool
		want    healthpb.HealthCheckResponse_ServingStatus
	}{
		{"no dependencies", nil, nil, false, healthpb.HealthCheckResponse_SERVING},
		{"all healthy", &mockPinger{}, &mockPolicyChecker{}, false, healthpb.HealthCheckResponse_SERVING},
		{"database down", &mockPinger{pingErr: errors.New("connection refused")}, &mockPolicyChecker{}, true, healthpb.HealthCheckResponse_NOT_SERVING},
		{"policy broken", &mockPinger{}, &mockPolicyChecker{healthErr: errors.New("not prepared")}, true, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(tt.pinger, tt.policy)
			err := s.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := status(t, s, ""); got != tt.want {
				t.Errorf("overall status = %v, want %v", got, tt.want)
			}
			if got := status(t, s, ServiceName); got != tt.want {
				t.Errorf("%s status = %v, want %v", ServiceName, got, tt.want)
			}
		})
	}
}

func TestCheck_Recovers(t *testing.T) {
	p := &mockPinger{pingErr: errors.New("down")}
	s := NewServer(p, nil)
	_ = s.Check(context.Background())
	p.pingErr = nil
	if err := s.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := status(t, s, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING after recovery", got)
	}
}

func TestHTTPProbes(t *testing.T) {
	p := &mockPinger{pingErr: errors.New("down")}
	s := NewServer(p, nil)
	_ = s.Check(context.Background())

	rec := httptest.NewRecorder()
	s.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness = %d, want 200", rec.Code)
	}
	rec = httptest.NewRecorder()
	s.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness = %d, want 503", rec.Code)
	}
}

func TestShutdown(t *testing.T) {
	s := NewServer(nil, nil)
	s.Shutdown()
	if got := status(t, s, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after Shutdown = %v, want NOT_SERVING", got)
	}
}
