package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracer
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	Environment    string
}

// NewTracer creates a tracer exporting to Jaeger
func NewTracer(config Config) (*Tracer, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{tracer: tp.Tracer(config.ServiceName), provider: tp}, nil
}

// NewWithProvider builds a tracer on an existing SDK provider.
func NewWithProvider(tp *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), provider: tp}
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("feasopt")}
}

// StartSpan starts a new span
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartEvaluationSpan starts a span for one evaluator call
func (t *Tracer) StartEvaluationSpan(ctx context.Context, dims int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "evaluator.evaluate", trace.WithAttributes(
		attribute.Int("evaluator.inputs", dims),
	))
}

// StartRunSpan starts the span covering a whole search run
func (t *Tracer) StartRunSpan(ctx context.Context, runID, strategy string, budget int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "search.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.strategy", strategy),
		attribute.Int("run.budget", budget),
	))
}

// RecordSpanError records an error in a span
func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSpanVerdict annotates an evaluation span with its verdict
func RecordSpanVerdict(span trace.Span, candidate bool, dominant string, cached bool) {
	span.SetAttributes(
		attribute.Bool("evaluation.candidate", candidate),
		attribute.String("evaluation.dominant_constraint", dominant),
		attribute.Bool("evaluation.cached", cached),
	)
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes and stops the provider, if any
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// GetTraceID extracts trace ID from context
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
