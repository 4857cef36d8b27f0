// Package observability provides OpenTelemetry tracing for floatfeed.
// Until Init is called every span is a no-op.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/floatfeed"

// Tracer returns the floatfeed tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span wraps a trace span and batches attribute writes until End.
type Span struct {
	span       trace.Span
	attributes []attribute.KeyValue
}

// NewSpan starts a span named operationName.
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, operationName)
	return ctx, &Span{span: span}
}

// SetAttribute adds an attribute to the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case uint64:
		attr = attribute.Int64(key, int64(v)) //nolint:gosec
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// Finish records err (if any) as the span status and ends the span.
func (s *Span) Finish(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
}

// TraceFill runs one prefetch fill cycle inside a "prefetch.fill" span.
func TraceFill(ctx context.Context, feed string, cycle uint64, batchSize int, fn func(context.Context) error) error {
	ctx, span := NewSpan(ctx, "prefetch.fill")
	span.SetAttribute("feed", feed)
	span.SetAttribute("cycle", cycle)
	span.SetAttribute("batch.size", batchSize)

	err := fn(ctx)
	span.Finish(err)
	return err
}
