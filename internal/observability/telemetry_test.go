package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDisabledByDefault(t *testing.T) {
	if Enabled() {
		t.Fatal("tracing should start disabled")
	}
	ctx, span := StartSpan(context.Background(), "keystore.get", AttrOp.String("get"))
	defer span.End()
	if traceID, _ := TraceIDs(ctx); traceID != "" {
		t.Fatalf("no-op span should carry no trace id, got %s", traceID)
	}
}

func TestInit_NoneExporterRecordsSpans(t *testing.T) {
	ctx := context.Background()
	if err := Init(ctx, Config{Enabled: true, Exporter: "none"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() {
		Shutdown(ctx)
		Init(ctx, Config{})
	}()

	if !Enabled() {
		t.Fatal("expected tracing enabled")
	}
	sctx, span := StartClientSpan(ctx, "redis GET")
	SetSpanError(span, errors.New("boom"))
	span.End()

	traceID, spanID := TraceIDs(sctx)
	if traceID == "" || spanID == "" {
		t.Fatal("expected trace and span ids")
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestShutdownRestoresNoop(t *testing.T) {
	ctx := context.Background()
	if err := Init(ctx, Config{Enabled: true, Exporter: ExporterNone}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if Enabled() {
		t.Fatal("expected tracing disabled after Shutdown")
	}
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown should be a no-op, got %v", err)
	}
}

func TestNewSampler(t *testing.T) {
	for rate, want := range map[float64]string{
		0:    "AlwaysOnSampler",
		1:    "AlwaysOnSampler",
		0.25: "ParentBased",
	} {
		if got := newSampler(rate).Description(); !strings.HasPrefix(got, want) {
			t.Fatalf("newSampler(%v) = %q, want prefix %q", rate, got, want)
		}
	}
}
