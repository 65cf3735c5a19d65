// Package observability sets up distributed tracing for serve mode.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures tracing export.
type Config struct {
	Enabled        bool
	Exporter       string // otlp, zipkin
	Endpoint       string
	SampleRate     float64 // 0.0 to 1.0
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps the OpenTelemetry tracer. With tracing disabled it
// hands out noop spans, so callers never branch.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a tracer provider for the configured exporter.
func NewTracerProvider(config Config) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("toolq"),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "toolq"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "otlp":
		endpoint := config.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("toolq"),
	}, nil
}

// Shutdown flushes pending spans and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a new span.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Common span names
const (
	SpanParse      = "toolq.queue.parse"
	SpanApprove    = "toolq.queue.approve"
	SpanApproveAll = "toolq.queue.approve_all"
	SpanHTTPServer = "toolq.http.request"
	SpanWebSocket  = "toolq.ws.connection"
)

// Common attribute keys
const (
	AttrActionID   = "toolq.action_id"
	AttrActionKind = "toolq.action_kind"
	AttrQueueDepth = "toolq.queue_depth"
	AttrSkipped    = "toolq.skipped"
	AttrStatus     = "toolq.status"
	AttrError      = "toolq.error"
)

// ActionAttrs creates attributes identifying one action.
func ActionAttrs(actionID, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrActionID, actionID),
		attribute.String(AttrActionKind, kind),
	}
}

// QueueAttrs creates queue state attributes.
func QueueAttrs(depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrQueueDepth, depth),
	}
}

// StatusAttrs creates status attributes.
func StatusAttrs(status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStatus, status),
	}
}

// ErrorAttrs creates error attributes.
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(AttrError, true),
		attribute.String("error.message", err.Error()),
	}
}
