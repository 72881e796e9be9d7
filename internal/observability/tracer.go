package observability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/fluxbase-eu/fluxpack"

// Pipeline stage span names
const (
	SpanBuild           = "build"
	SpanExtractFile     = "extract.file"
	SpanBundle          = "bundle"
	SpanDepsClosure     = "deps.closure"
	SpanFingerprint     = "fingerprint"
	SpanArchiveFunction = "archive.function"
	SpanArchiveLayer    = "archive.layer"
)

// TracerConfig holds configuration for OpenTelemetry tracing
type TracerConfig struct {
	Enabled        bool
	Endpoint       string  // OTLP endpoint (e.g., "localhost:4317")
	ServiceName    string
	ServiceVersion string
	SampleRate     float64 // 0.0-1.0 (1.0 = 100%)
	Insecure       bool    // plaintext gRPC, for local collectors
}

// DefaultTracerConfig returns the tracing defaults
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:     false,
		Endpoint:    "localhost:4317",
		ServiceName: "fluxpack",
		SampleRate:  1.0,
		Insecure:    true,
	}
}

// Tracer wraps OpenTelemetry tracer functionality. The zero value and a nil *Tracer are no-ops.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewTracer creates a tracer exporting to an OTLP gRPC collector, or a no-op tracer when
// tracing is disabled
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	if !cfg.Enabled {
		log.Debug().Msg("OpenTelemetry tracing is disabled")
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "fluxpack"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	log.Debug().
		Str("endpoint", cfg.Endpoint).
		Str("service_name", cfg.ServiceName).
		Float64("sample_rate", cfg.SampleRate).
		Msg("OpenTelemetry tracing initialized")

	return NewTracerWithProvider(provider), nil
}

// newResource describes the process on top of the SDK defaults. semconv must match the schema
// version of the SDK's default resource or the merge fails.
func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(serviceVersion))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewTracerWithProvider creates an enabled tracer on an existing provider, such as one feeding a
// tracetest.SpanRecorder
func NewTracerWithProvider(provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
		enabled:  true,
	}
}

// Sampler maps a sample rate onto a sampler: everything at 1 or above, nothing at 0 or below,
// parent-based ratio sampling in between
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans and stops the exporter
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t != nil && t.provider != nil {
		log.Debug().Msg("Shutting down OpenTelemetry tracer")
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// IsEnabled returns whether tracing is enabled
func (t *Tracer) IsEnabled() bool {
	return t != nil && t.enabled
}

// StartSpan starts a new span with the given name
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName).Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes sets attributes on the current span
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// ExtractTraceID returns the trace ID of the current span, or "" outside a trace
func ExtractTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
