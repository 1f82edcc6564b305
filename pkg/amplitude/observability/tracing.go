package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("amplitude")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDeliverySpan starts a span around one transport call.
	StartDeliverySpan(ctx context.Context, kind string, count int) (context.Context, trace.Span)

	// EndDeliverySpan records the outcome and completes the span.
	// A non-nil err marks the span as failed.
	EndDeliverySpan(span trace.Span, result string, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartDeliverySpan starts a client span for a transport call.
func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, kind string, count int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "amplitude.deliver."+kind,
		trace.WithAttributes(
			attribute.String("delivery.kind", kind),
			attribute.Int("delivery.count", count),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndDeliverySpan completes a span, recording the result and any error.
func (m *otelSpanManager) EndDeliverySpan(span trace.Span, result string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("delivery.result", result))
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result != "success":
		span.SetStatus(codes.Error, result)
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
