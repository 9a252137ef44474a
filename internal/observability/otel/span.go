package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var noopTracer = noop.NewTracerProvider().Tracer(tracerName)

// Handle is an initialized tracer and the hook that flushes it.
type Handle struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

func newHandle(tp trace.TracerProvider, shutdown func(context.Context) error) *Handle {
	return &Handle{tracer: tp.Tracer(tracerName), shutdown: shutdown}
}

// Close flushes buffered spans, giving up after timeout. Nil-safe.
func (h *Handle) Close(timeout time.Duration) error {
	if h == nil || h.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.shutdown(ctx)
}

type handleKey struct{}

func WithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// From returns nil when tracing is disabled.
func From(ctx context.Context) *Handle {
	h, _ := ctx.Value(handleKey{}).(*Handle)
	return h
}

// StartSpan starts a span on the context's tracer, or a no-op span when
// tracing is disabled.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := noopTracer
	if h := From(ctx); h != nil && h.tracer != nil {
		tracer = h.tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
