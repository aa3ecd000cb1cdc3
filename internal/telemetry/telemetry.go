// Package telemetry wires OpenTelemetry tracing and Pyroscope continuous
// profiling for the staging server. Spans use the staging vocabulary
// defined in tracer.go; log correlation happens through
// InjectTraceContext.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// shutdownFlushTimeout bounds the final span flush at process exit.
const shutdownFlushTimeout = 5 * time.Second

var (
	tracer     trace.Tracer
	tracerOnce sync.Once

	tracerProvider *sdktrace.TracerProvider

	enabled bool
)

// Init sets up the OTLP trace pipeline and installs it as the global
// tracer provider. The returned shutdown flushes pending spans; call it
// before process exit.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		enabled = false
		tracer = noop.NewTracerProvider().Tracer(instrumentationScope)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := newServiceResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to describe service resource: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tracerProvider)

	// W3C trace context plus baggage, so upstream callers can correlate.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tracerProvider.Tracer(cfg.ServiceName)
	enabled = true

	return func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, shutdownFlushTimeout)
		defer cancel()
		return tracerProvider.Shutdown(flushCtx)
	}, nil
}

func newExporter(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

func newServiceResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
}

// sampler maps the configured rate onto an SDK sampler, using the cheap
// fixed samplers at the endpoints.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the process tracer. Before Init it is a no-op, so
// instrumented code paths work in tests without setup.
func Tracer() trace.Tracer {
	tracerOnce.Do(func() {
		if tracer == nil {
			tracer = noop.NewTracerProvider().Tracer(instrumentationScope)
		}
	})
	return tracer
}

// IsEnabled reports whether spans are being exported.
func IsEnabled() bool {
	return enabled
}

// StartSpan opens a span named name. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext returns the active span, or a no-op span when the
// context carries none.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent attaches a point-in-time event to the active span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records err on the active span and marks the span failed.
// Nil errors are ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetStatus sets the status of the active span.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	SpanFromContext(ctx).SetStatus(code, description)
}

// SetAttributes sets attributes on the active span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the active trace ID, or "" when no span is recording.
func TraceID(ctx context.Context) string {
	if sc := SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanID returns the active span ID, or "" when no span is recording.
func SpanID(ctx context.Context) string {
	if sc := SpanFromContext(ctx).SpanContext(); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}
