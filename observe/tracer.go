package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Op names the cache operations that get their own spans.
type Op string

const (
	OpGet     Op = "get"
	OpSet     Op = "set"
	OpResolve Op = "resolve"
	OpDelete  Op = "delete"
	OpClear   Op = "clear"
	OpExecute Op = "execute"
)

// Tracer wraps OpenTelemetry tracing with cache-operation span
// management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a cache operation.
	StartSpan(ctx context.Context, cache string, op Op) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// spanName returns the deterministic span name for a cache operation.
// Format: cache.<op>.<name>
func spanName(cache string, op Op) string {
	return "cache." + string(op) + "." + cache
}

// StartSpan starts a new span with cache metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, cache string, op Op) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.name", cache),
		attribute.String("cache.op", string(op)),
		attribute.Bool("cache.error", false), // Will be updated in EndSpan if error
	}

	ctx, span := t.tracer.Start(ctx, spanName(cache, op),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("cache.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a no-op tracer.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, cache string, op Op) (context.Context, trace.Span) {
	return t.noop.Start(ctx, spanName(cache, op))
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
