package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records client metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEnqueued records an event entering the queue.
	RecordEnqueued(ctx context.Context, kind string)

	// RecordDelivery records a transport call with its outcome and latency.
	RecordDelivery(ctx context.Context, kind string, count int, result string, duration time.Duration)

	// RecordRemoved records events leaving the queue after delivery.
	RecordRemoved(ctx context.Context, count int)

	// RecordBackoff records the worker entering backoff.
	RecordBackoff(ctx context.Context)

	// RecordPersist records a save or load of queued events.
	RecordPersist(ctx context.Context, op string, count int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	enqueued        metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveredEvents metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	removed         metric.Int64Counter
	backoffs        metric.Int64Counter
	persisted       metric.Int64Counter
	persistErrors   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("amplitude")

	enqueued, err := meter.Int64Counter("amplitude.queue.enqueued",
		metric.WithDescription("Number of events added to the queue"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("amplitude.delivery.calls",
		metric.WithDescription("Number of transport calls"),
	)
	if err != nil {
		return nil, err
	}

	deliveredEvents, err := meter.Int64Counter("amplitude.delivery.events",
		metric.WithDescription("Number of events carried by transport calls"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("amplitude.delivery.latency_ms",
		metric.WithDescription("Transport call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	removed, err := meter.Int64Counter("amplitude.queue.removed",
		metric.WithDescription("Number of events removed from the queue after delivery"),
	)
	if err != nil {
		return nil, err
	}

	backoffs, err := meter.Int64Counter("amplitude.delivery.backoffs",
		metric.WithDescription("Number of times the worker backed off"),
	)
	if err != nil {
		return nil, err
	}

	persisted, err := meter.Int64Counter("amplitude.persist.events",
		metric.WithDescription("Number of events saved or loaded"),
	)
	if err != nil {
		return nil, err
	}

	persistErrors, err := meter.Int64Counter("amplitude.persist.errors",
		metric.WithDescription("Number of failed save or load operations"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		enqueued:        enqueued,
		deliveries:      deliveries,
		deliveredEvents: deliveredEvents,
		deliveryLatency: deliveryLatency,
		removed:         removed,
		backoffs:        backoffs,
		persisted:       persisted,
		persistErrors:   persistErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEnqueued records an enqueue.
func (m *otelMetrics) RecordEnqueued(ctx context.Context, kind string) {
	m.enqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDelivery records a transport call.
func (m *otelMetrics) RecordDelivery(ctx context.Context, kind string, count int, result string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.deliveredEvents.Add(ctx, int64(count), attrs)
	m.deliveryLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordRemoved records removal after delivery.
func (m *otelMetrics) RecordRemoved(ctx context.Context, count int) {
	m.removed.Add(ctx, int64(count))
}

// RecordBackoff records a backoff.
func (m *otelMetrics) RecordBackoff(ctx context.Context) {
	m.backoffs.Add(ctx, 1)
}

// RecordPersist records a persistence operation.
func (m *otelMetrics) RecordPersist(ctx context.Context, op string, count int, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", op))
	if err != nil {
		m.persistErrors.Add(ctx, 1, attrs)
		return
	}
	m.persisted.Add(ctx, int64(count), attrs)
}
