// Package corvidtrace wires OpenTelemetry tracing around Connector calls.
// It ships no exporter by default — callers supply one via the SDK
// TracerProvider's options, since this module's only network egress is the
// Corvid wire protocol itself.
package corvidtrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies this module's spans in a trace backend.
const TracerName = "github.com/corviddb/corvid-go/connector"

// NewTracerProvider builds an SDK TracerProvider from additional options
// (typically a span processor wrapping an exporter). With no options, spans
// are created and immediately discarded — useful for tests that only
// assert on span attributes via a recording processor supplied by the
// caller.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(opts...)
}

// CallAttributes returns the standard span attributes recorded on every
// corvid.call / corvid.say span.
func CallAttributes(address, db, collection string, retries int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("corvid.address", address),
		attribute.String("corvid.db", db),
		attribute.String("corvid.collection", collection),
		attribute.Int("corvid.retries", retries),
	}
}

// StartSpan starts a span named name on tracer, returning the updated
// context and span. If tracer is nil, trace.NewNoopTracerProvider is used
// so callers never need to nil-check.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer(TracerName)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndWithOutcome records outcome as a span attribute and sets an error
// status on span when outcome is not "ok".
func EndWithOutcome(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("corvid.outcome", outcome))
	if err != nil {
		span.RecordError(err)
	}
	if outcome != "ok" {
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}
