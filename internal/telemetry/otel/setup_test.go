package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, endpoint, "test-service", false)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) left a provider nil", endpoint)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), tt.endpoint, "test-service", false); err == nil {
				t.Errorf("NewProviders(%q) should fail", tt.endpoint)
			}
		})
	}
}

func TestNewProviders_EndpointForms(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		insecure bool
	}{
		{"host only", "localhost:4317", false},
		{"http", "http://localhost:4317", false},
		{"https insecure override", "https://collector:4317", true},
		{"path ignored", "http://localhost:4317/v1/traces", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			providers, err := NewProviders(ctx, tt.endpoint, "test-service", tt.insecure)
			if err != nil {
				t.Fatalf("NewProviders(%q): %v", tt.endpoint, err)
			}
			// Exporters dial lazily, so shutdown against an absent collector may report an error; it must not hang.
			shutdownCtx, cancel := context.WithTimeout(ctx, 0)
			defer cancel()
			_ = providers.Shutdown(shutdownCtx)
		})
	}
}

func TestProviders_MeterAndSetGlobal(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "test-service", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if providers.Meter("auth") == nil {
		t.Fatal("Meter returned nil")
	}
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}()
	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("global TracerProvider not set")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("global MeterProvider not set")
	}
}

func TestParseCollector(t *testing.T) {
	tests := []struct {
		endpoint     string
		force        bool
		wantHost     string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://otel:4317/v1/traces", false, "otel:4317", true},
		{"https://collector:4317", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
	}
	for _, tt := range tests {
		got, err := parseCollector(tt.endpoint, tt.force)
		if err != nil {
			t.Fatalf("parseCollector(%q): %v", tt.endpoint, err)
		}
		if got.hostPort != tt.wantHost || got.insecure != tt.wantInsecure {
			t.Errorf("parseCollector(%q, %t) = %+v, want %s insecure=%t", tt.endpoint, tt.force, got, tt.wantHost, tt.wantInsecure)
		}
	}
}
