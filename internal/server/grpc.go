// Package server assembles the HTTP handlers and the gRPC health server.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	healthhandler "study-abroad-portal/backend/internal/health/handler"
)

// NewHealthGRPCServer returns a gRPC server that carries only grpc.health.v1.Health, instrumented with otelgrpc.
func NewHealthGRPCServer(h *healthhandler.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	h.Register(s)
	return s
}
