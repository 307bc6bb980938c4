// Package handler reports readiness over the standard gRPC health service and plain HTTP probes.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"study-abroad-portal/backend/internal/server/httpx"
)

// ServiceName is the named service reported alongside the overall ("") status.
const ServiceName = "study-abroad-portal.auth"

const checkTimeout = 3 * time.Second

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the authorizer can evaluate (e.g. the OPA authorizer).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server keeps the gRPC health status in sync with periodic dependency checks.
// A nil pinger or policy checker is skipped.
type Server struct {
	health  *health.Server
	pinger  Pinger
	policy  PolicyChecker
	mu      sync.RWMutex
	lastErr error
}

// NewServer returns a Server that reports SERVING until the first failed check.
func NewServer(pinger Pinger, policy PolicyChecker) *Server {
	s := &Server{health: health.NewServer(), pinger: pinger, policy: policy}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Register adds the grpc.health.v1.Health service to reg.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(reg, s.health)
}

// Check runs the dependency checks once and updates the reported status.
func (s *Server) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var errs []error
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	err := errors.Join(errs...)

	s.mu.Lock()
	changed := (err == nil) != (s.lastErr == nil)
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	} else {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	}
	if changed {
		if err != nil {
			log.Printf("health: not serving: %v", err)
		} else {
			log.Printf("health: serving")
		}
	}
	return err
}

// Run checks every interval until ctx is cancelled.
func (s *Server) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	_ = s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING for every service so load balancers drain before the process stops.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// Liveness answers 200 while the process is up.
func (s *Server) Liveness(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness answers 200 when the last check passed and 503 otherwise.
func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	err := s.lastErr
	s.mu.RUnlock()
	if err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
