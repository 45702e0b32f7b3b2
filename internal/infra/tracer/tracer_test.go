package tracer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"omni-agent/internal/infra/config"
)

func TestSetupDisabledInstallsNoop(t *testing.T) {
	for _, cfg := range []config.TracerConfig{
		{Enabled: false},
		{Enabled: true, Exporter: "noop"},
		{Enabled: true, Exporter: ""},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup(%+v): %v", cfg, err)
		}
		if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
			t.Errorf("Setup(%+v): expected noop provider, got %T", cfg, otel.GetTracerProvider())
		}
		_ = shutdown(context.Background())
	}
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())
}

func TestSetupUnsupportedExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"}); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestEndRecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	_, ok := StartSpan(context.Background(), "graph.invoke")
	ok.SetAttributes(StringAttr("agent", "math"), IntAttr("steps", 2), BoolAttr("delegated", false))
	End(ok, nil)

	_, bad := StartSpan(context.Background(), "tool.get_time")
	End(bad, errors.New("boom"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("first span status = %v, want Ok", spans[0].Status().Code)
	}
	if len(spans[0].Attributes()) != 3 {
		t.Errorf("attributes = %v", spans[0].Attributes())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Errorf("second span status = %+v", spans[1].Status())
	}
}
