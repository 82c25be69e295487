// Package observability provides OpenTelemetry tracing for the answer pipeline.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans produced by this module.
const TracerName = "github.com/auslex/auslex"

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is the OTLP gRPC endpoint, e.g. "localhost:4317".
	// Empty disables export entirely.
	OTLPEndpoint string
}

// TracerProvider wraps the SDK provider so callers can shut it down
// without importing the otel SDK themselves.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing wires the global tracer provider. With no endpoint configured
// it returns a provider backed by the default no-op tracer, so callers can
// instrument unconditionally.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes buffered spans. Safe on a no-op provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the module tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartPipelineSpan starts a span covering one question through the pipeline.
func StartPipelineSpan(ctx context.Context, jurisdiction string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "pipeline.answer",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("pipeline.jurisdiction", jurisdiction),
		),
	)
}

// StartRetrievalSpan starts a span for the embed-and-search stage.
func StartRetrievalSpan(ctx context.Context, limit int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "pipeline.retrieve",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("retrieval.limit", limit),
		),
	)
}

// StartLLMSpan starts a span for one model call.
func StartLLMSpan(ctx context.Context, operation, model string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "llm."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", model),
		),
	)
}

// RecordLLMUsage records token accounting on a model-call span.
func RecordLLMUsage(span trace.Span, inputTokens, outputTokens int32, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("llm.input_tokens", int(inputTokens)),
		attribute.Int("llm.output_tokens", int(outputTokens)),
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
	)
}

// RecordRetrievalResult records how retrieval fared, including degraded runs
// where the passage set is empty but the pipeline continued.
func RecordRetrievalResult(span trace.Span, passages int, degraded bool) {
	span.SetAttributes(
		attribute.Int("retrieval.passages", passages),
		attribute.Bool("retrieval.degraded", degraded),
	)
	if degraded {
		span.SetStatus(codes.Error, "retrieval degraded")
	}
}

// RecordError marks a span failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
