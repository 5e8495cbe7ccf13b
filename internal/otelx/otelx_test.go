package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// otelx.go - Init (disabled)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(t.Context(), Options{Enabled: false, Sample: 99.9})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
}

func TestInit_Disabled_SetsPropagator(t *testing.T) {
	_, _ = Init(t.Context(), Options{})

	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	for _, want := range []string{"traceparent", "baggage"} {
		if !fields[want] {
			t.Errorf("propagator missing %s", want)
		}
	}
}

func TestInit_Disabled_MultipleCalls(t *testing.T) {
	for i := range 3 {
		shutdown, err := Init(t.Context(), Options{})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		_ = shutdown(t.Context())
	}
	_, span := otel.Tracer("test").Start(t.Context(), "span")
	span.End()
}

// otelx.go - Init (enabled)

func TestInit_Enabled_RequiresEndpoint(t *testing.T) {
	if _, err := Init(t.Context(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Service:   "linnemanlabs",
		Component: "healthchecks",
		Version:   "v0.0.0-test",
		UserAgent: "linnemanlabs-healthchecks/test",
	})
	elapsed := time.Since(start)
	if elapsed > dialTimeout+2*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

// otelx.go - ServiceName

func TestOptions_ServiceName(t *testing.T) {
	tests := []struct {
		o    Options
		want string
	}{
		{Options{Service: "linnemanlabs", Component: "healthchecks"}, "linnemanlabs.healthchecks"},
		{Options{Service: "linnemanlabs"}, "linnemanlabs"},
		{Options{Component: "healthchecks"}, "healthchecks"},
		{Options{}, ""},
	}
	for _, tt := range tests {
		if got := tt.o.ServiceName(); got != tt.want {
			t.Errorf("ServiceName(%+v) = %q, want %q", tt.o, got, tt.want)
		}
	}
}
