// Package observability owns the OpenTelemetry tracer used around keystore
// operations. Until Init is called with tracing enabled every span is a no-op.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporters understood by Init.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterNone     = "none"
)

// Config holds telemetry configuration
type Config struct {
	Enabled     bool
	Exporter    string  // otlp-http (default) or none
	Endpoint    string  // host:port of the OTLP/HTTP collector
	ServiceName string  // defaults to keystore
	SampleRate  float64 // fraction of root spans kept; <= 0 or >= 1 keeps all
	// Attributes are added to the resource, e.g. the registered drivers.
	Attributes []attribute.KeyValue
}

type provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

var current atomic.Pointer[provider]

func init() {
	current.Store(disabled())
}

func disabled() *provider {
	return &provider{tracer: noop.NewTracerProvider().Tracer("")}
}

// Init installs the tracer provider described by cfg. A disabled config
// installs the no-op tracer.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		current.Store(disabled())
		return nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "keystore"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithAttributes(cfg.Attributes...),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	current.Store(&provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)})
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLPHTTP, "otlp", "":
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		return exp, nil
	case ExporterNone:
		// spans are recorded so trace ids reach the logs, then dropped
		return discardExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}
}

// newSampler keeps a rate fraction of new traces and follows the parent's
// decision for spans inside an incoming trace.
func newSampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown flushes pending spans and reinstalls the no-op tracer.
func Shutdown(ctx context.Context) error {
	p := current.Swap(disabled())
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Tracer returns the installed tracer
func Tracer() trace.Tracer {
	return current.Load().tracer
}

// Enabled reports whether a recording tracer is installed
func Enabled() bool {
	return current.Load().tp != nil
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (discardExporter) Shutdown(context.Context) error { return nil }
