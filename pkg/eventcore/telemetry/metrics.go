package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records pipeline metrics.
// Use NewRecorder() for OTel metrics or NoopRecorder{} when disabled.
type Recorder interface {
	// RecordPublish records a publish attempt with its lane, outcome and latency.
	RecordPublish(ctx context.Context, lane, outcome string, duration time.Duration)

	// RecordValidated records an event that passed validation.
	RecordValidated(ctx context.Context)

	// RecordDropped records an event dropped by the validator.
	RecordDropped(ctx context.Context, reason string)

	// RecordEnqueue records a durable queue write attempt.
	RecordEnqueue(ctx context.Context, lane string, ok bool)
}

// otelRecorder implements Recorder using OpenTelemetry.
type otelRecorder struct {
	published      metric.Int64Counter
	publishLatency metric.Float64Histogram
	validated      metric.Int64Counter
	dropped        metric.Int64Counter
	enqueues       metric.Int64Counter
}

var (
	defaultRecorder     *otelRecorder
	defaultRecorderOnce sync.Once
	defaultRecorderErr  error
)

func getDefaultRecorder() (*otelRecorder, error) {
	defaultRecorderOnce.Do(func() {
		defaultRecorder, defaultRecorderErr = newOtelRecorder()
	})
	return defaultRecorder, defaultRecorderErr
}

func newOtelRecorder() (*otelRecorder, error) {
	meter := otel.Meter("eventcore")

	published, err := meter.Int64Counter("eventcore.events.published",
		metric.WithDescription("Number of publish attempts"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("eventcore.publish.latency_ms",
		metric.WithDescription("Publish latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	validated, err := meter.Int64Counter("eventcore.events.validated",
		metric.WithDescription("Number of events that passed validation"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("eventcore.events.dropped",
		metric.WithDescription("Number of events dropped by the validator"),
	)
	if err != nil {
		return nil, err
	}

	enqueues, err := meter.Int64Counter("eventcore.queue.enqueues",
		metric.WithDescription("Number of durable queue write attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		published:      published,
		publishLatency: publishLatency,
		validated:      validated,
		dropped:        dropped,
		enqueues:       enqueues,
	}, nil
}

// NewRecorder returns a Recorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewRecorder() Recorder {
	r, err := getDefaultRecorder()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopRecorder{}
	}
	return r
}

// RecordPublish records a publish attempt.
func (r *otelRecorder) RecordPublish(ctx context.Context, lane, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("lane", lane),
		attribute.String("outcome", outcome),
	}
	r.published.Add(ctx, 1, metric.WithAttributes(attrs...))
	r.publishLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordValidated records a validation pass.
func (r *otelRecorder) RecordValidated(ctx context.Context) {
	r.validated.Add(ctx, 1)
}

// RecordDropped records a validator drop.
func (r *otelRecorder) RecordDropped(ctx context.Context, reason string) {
	r.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEnqueue records a queue write attempt.
func (r *otelRecorder) RecordEnqueue(ctx context.Context, lane string, ok bool) {
	r.enqueues.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lane", lane),
		attribute.Bool("ok", ok),
	))
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

// RecordPublish does nothing.
func (NoopRecorder) RecordPublish(context.Context, string, string, time.Duration) {}

// RecordValidated does nothing.
func (NoopRecorder) RecordValidated(context.Context) {}

// RecordDropped does nothing.
func (NoopRecorder) RecordDropped(context.Context, string) {}

// RecordEnqueue does nothing.
func (NoopRecorder) RecordEnqueue(context.Context, string, bool) {}
