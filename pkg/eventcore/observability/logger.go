// Package observability provides production-grade observability features
// for the event pipeline: structured logging and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Rolling-window aggregation and metrics counters live in package telemetry.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with event_id, correlation_id, and lane fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, evt.ID, evt.CorrelationID, "realtime")
//	enriched.Info("claimed") // includes event_id, correlation_id, lane
func EnrichLogger(logger *slog.Logger, eventID, correlationID, lane string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("correlation_id", correlationID),
		slog.String("lane", lane),
	)
}

// LogPublish logs a publish outcome.
func LogPublish(logger *slog.Logger, eventName, lane, outcome string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("event published",
		slog.String("event_name", eventName),
		slog.String("lane", lane),
		slog.String("outcome", outcome),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPublishFallback logs a publish that degraded to best-effort broadcast.
func LogPublishFallback(logger *slog.Logger, eventName, lane string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("durable enqueue failed, falling back to broadcast",
		slog.String("event_name", eventName),
		slog.String("lane", lane),
		slog.String("error", err.Error()),
	)
}

// LogClaim logs a claim batch.
func LogClaim(logger *slog.Logger, lane string, claimed int) {
	if logger == nil {
		return
	}
	logger.Debug("records claimed",
		slog.String("lane", lane),
		slog.Int("count", claimed),
	)
}

// LogSweep logs the startup processing sweep.
func LogSweep(logger *slog.Logger, lane string, swept int) {
	if logger == nil {
		return
	}
	logger.Warn("stale processing records swept to failed",
		slog.String("lane", lane),
		slog.Int("count", swept),
	)
}

// LogDeadLetter logs a record reaching the dead letter queue.
func LogDeadLetter(logger *slog.Logger, recordID, lane, class string, attempts int) {
	if logger == nil {
		return
	}
	logger.Error("record dead-lettered",
		slog.String("record_id", recordID),
		slog.String("lane", lane),
		slog.String("class", class),
		slog.Int("attempts", attempts),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
