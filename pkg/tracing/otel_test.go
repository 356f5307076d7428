package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorded() (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewWithProvider(tp, "test"), rec
}

func TestEvaluationSpan(t *testing.T) {
	tr, rec := newRecorded()

	ctx, run := tr.StartRunSpan(context.Background(), "r1", "random", 10)
	_, span := tr.StartEvaluationSpan(ctx, 3)
	RecordSpanVerdict(span, true, "NONE", false)
	span.End()
	run.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "evaluator.evaluate", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
	assert.NotEmpty(t, GetTraceID(ctx))
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestRecordSpanError(t *testing.T) {
	tr, rec := newRecorded()
	_, span := tr.StartSpan(context.Background(), "x")
	RecordSpanError(span, errors.New("boom"))
	span.End()

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Error, rec.Ended()[0].Status().Code)
	assert.Equal(t, "boom", rec.Ended()[0].Status().Description)
}

func TestNoopTracer(t *testing.T) {
	tr := Noop()
	ctx, span := tr.StartEvaluationSpan(context.Background(), 1)
	span.End()
	assert.Empty(t, GetTraceID(ctx))
	assert.NoError(t, tr.Shutdown(context.Background()))
}
