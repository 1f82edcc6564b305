// Package observability provides structured logging, metrics, and tracing
// for the amplitude client.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger tags a logger with the emitting component.
//
// Example:
//
//	logger := EnrichLogger(base, "delivery")
//	logger.Info("worker started") // includes component=delivery
func EnrichLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// LogDelivery logs a completed delivery call.
func LogDelivery(logger *slog.Logger, kind string, count int, result string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("delivery completed",
		slog.String("kind", kind),
		slog.Int("count", count),
		slog.String("result", result),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeliveryError logs a transport failure that was folded into a server error.
func LogDeliveryError(logger *slog.Logger, kind string, count int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("delivery failed",
		slog.String("kind", kind),
		slog.Int("count", count),
		slog.String("error", err.Error()),
	)
}

// LogBackoff logs the worker suspending after a failed delivery.
func LogBackoff(logger *slog.Logger, interval time.Duration, pending int) {
	if logger == nil {
		return
	}
	logger.Info("delivery backing off",
		slog.Duration("interval", interval),
		slog.Int("pending", pending),
	)
}

// LogWorkerFatal logs permanent termination of the delivery worker.
func LogWorkerFatal(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery worker terminated",
		slog.String("error", err.Error()),
	)
}

// LogPersist logs a successful save or load of queued events.
func LogPersist(logger *slog.Logger, op string, count int) {
	if logger == nil {
		return
	}
	logger.Debug("events persisted",
		slog.String("operation", op),
		slog.Int("count", count),
	)
}

// LogPersistError logs a swallowed persistence failure (non-fatal).
func LogPersistError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event persistence failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
