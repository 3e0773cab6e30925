package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"taskbridge/pkg/config"
)

func TestInitTracerDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(config.TelemetryConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracer error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracerExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := initTracer(config.TelemetryConfig{Enabled: true, ServiceName: "taskbridge-test"}, &buf, nil)
	if err != nil {
		t.Fatalf("initTracer error: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "aggregate")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"Name":"aggregate"`) {
		t.Fatalf("exported spans missing span name: %s", out)
	}
	if !strings.Contains(out, "taskbridge-test") {
		t.Fatalf("exported spans missing service name: %s", out)
	}
}
