package observability

import (
	"context"
	"testing"
)

func TestInitTracing_None(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "uptime-test", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "probe")
	if ctx == nil || span == nil {
		t.Fatal("expected a usable span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), "uptime-test", Config{Exporter: "zipkin"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
