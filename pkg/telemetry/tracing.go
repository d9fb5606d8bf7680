package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTracerName is the instrumentation name used when no tracer is
// configured.
const DefaultTracerName = "github.com/vango-dev/pinus"

// Attribute keys set on client spans.
const (
	AttrRoute     = attribute.Key("pinus.route")
	AttrRequestID = attribute.Key("pinus.request_id")
	AttrConnID    = attribute.Key("pinus.conn_id")
	AttrURL       = attribute.Key("pinus.url")
	AttrErrorCode = attribute.Key("pinus.error_code")
)

// Tracer returns t, or the tracer of the global provider when t is nil.
func Tracer(t trace.Tracer) trace.Tracer {
	if t != nil {
		return t
	}
	return otel.Tracer(DefaultTracerName)
}

// StartSpan starts a client span named name.
func StartSpan(ctx context.Context, t trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer(t).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(AttrErrorCode.String(errorLabel(err)))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
