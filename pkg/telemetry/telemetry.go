// Package telemetry wraps the OpenTelemetry tracer this process shares
// across the Cascade Orchestrator and the Upstream Client. Exporter wiring
// (OTLP, stdout, or none) is the caller's concern — set up in
// cmd/logikal-sync's main and left as a no-op tracer provider otherwise.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/scrollit/logikal-sync"

// Tracer is the shared tracer every span in this process starts from.
var Tracer = otel.Tracer(instrumentationName)

// StartSpan starts a span named name under Tracer, attaching attrs as string
// key/value pairs for low-cardinality labels (kind, upstream id, route).
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed and attaches err, mirroring the
// record-then-return idiom used throughout this codebase's error handling.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
