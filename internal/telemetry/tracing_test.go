package telemetry

import (
	"context"
	"testing"

	"github.com/dunamismax/pixelfilter/internal/config"
	"github.com/dunamismax/pixelfilter/internal/logger"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.TracingConfig{Exporter: "none"}, logger.Discard())
	if err != nil {
		t.Fatalf("setup tracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingRejectsBadExporter(t *testing.T) {
	if _, err := SetupTracing(context.Background(), config.TracingConfig{Exporter: "zipkin"}, logger.Discard()); err == nil {
		t.Fatal("expected unsupported exporter error")
	}
	if _, err := SetupTracing(context.Background(), config.TracingConfig{Exporter: "otlp"}, logger.Discard()); err == nil {
		t.Fatal("expected otlp without endpoint to fail")
	}
}
