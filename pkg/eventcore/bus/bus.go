// Package bus is the public entry point of the event pipeline. Publish
// validates an event, classifies its destination lane, persists it to the
// lane's durable queue, and degrades to best-effort broadcast when the
// queue backend is unavailable.
//
// The bus never retries: retry is a consumer/acknowledger concern. Its only
// durability trade happens at the producer boundary, where a queue outage
// downgrades delivery to the broadcaster rather than failing the publish.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/queue"
	"github.com/randalmurphal/eventcore/pkg/eventcore/telemetry"
)

// Publish outcomes reported to metrics.
const (
	OutcomeEnqueued = "enqueued"
	OutcomeFallback = "fallback"
	OutcomeRejected = "rejected"
)

// Config wires the bus's collaborators.
type Config struct {
	// Store is the durable queue backend. Required.
	Store queue.Store

	// Validator gates every event. Required; the bus registers itself as
	// the validator's audit sink when none is configured.
	Validator *event.Validator

	// Classifier resolves destination lanes. Defaults to a zero-value
	// classifier (empty default domain).
	Classifier *LaneClassifier

	// Broadcaster is the best-effort fallback path. Optional: without it
	// a queue outage fails the publish instead of degrading, so the caller
	// always learns when an event reached neither path.
	Broadcaster *Broadcaster

	// Telemetry receives throughput/failure samples. Optional.
	Telemetry *telemetry.Pipeline

	// Guard throttles telemetry emission under burst load. Optional.
	Guard *telemetry.Guard

	// Metrics receives counters and latency. Defaults to NoopRecorder.
	Metrics telemetry.Recorder

	// Spans traces publish calls. Defaults to NoopSpanManager.
	Spans observability.SpanManager

	// Logger for publish activity. Nil disables logging.
	Logger *slog.Logger
}

// Bus validates, routes and persists events.
type Bus struct {
	cfg Config
}

// New creates an event bus.
func New(cfg Config) *Bus {
	if cfg.Classifier == nil {
		cfg.Classifier = &LaneClassifier{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopRecorder{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	b := &Bus{cfg: cfg}
	if cfg.Validator != nil && !cfg.Validator.HasAuditSink() {
		cfg.Validator.SetAuditSink(b)
	}
	return b
}

// Publish validates the event, resolves its lane, and persists it pending.
//
// On validation failure the configured failure mode has already run and the
// error is returned; nothing reaches the queue. On queue backend failure the
// event is broadcast best-effort on a topic keyed by its type and the call
// still succeeds: consumers on the fallback path tolerate occasional loss.
// Without a broadcaster the enqueue failure is returned instead.
func (b *Bus) Publish(ctx context.Context, evt *event.Event) (*event.Event, error) {
	ctx, span := b.cfg.Spans.StartPublishSpan(ctx, evt.Name, evt.CorrelationID)
	done := observability.TimedOperation()
	start := time.Now()

	if err := b.cfg.Validator.Validate(evt); err != nil {
		b.cfg.Metrics.RecordPublish(ctx, "", OutcomeRejected, time.Since(start))
		if verr, ok := err.(*event.ValidationError); ok && b.cfg.Validator.Mode() == event.ModeDrop {
			b.cfg.Metrics.RecordDropped(ctx, string(verr.Reason))
		}
		b.observeFailure(evt, "validation", "publish")
		b.cfg.Spans.EndSpanWithError(span, err)
		return nil, err
	}
	b.cfg.Metrics.RecordValidated(ctx)

	lane := b.cfg.Classifier.Classify(evt)
	evt.Meta[event.MetaPublishedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	rec, err := queue.NewRecord(evt, lane)
	if err != nil {
		err = fmt.Errorf("encode event %s: %w", evt.ID, err)
		b.cfg.Metrics.RecordPublish(ctx, string(lane), OutcomeRejected, time.Since(start))
		b.cfg.Spans.EndSpanWithError(span, err)
		return nil, err
	}

	if err := b.cfg.Store.Enqueue(ctx, rec); err != nil {
		b.cfg.Metrics.RecordEnqueue(ctx, string(lane), false)
		b.observeFailure(evt, "enqueue", "publish")
		if b.cfg.Broadcaster == nil {
			// No fallback path exists: the event reached nothing, so the
			// publish must fail rather than report a silent loss.
			err = fmt.Errorf("enqueue event %s: %w", evt.ID, err)
			b.cfg.Metrics.RecordPublish(ctx, string(lane), OutcomeRejected, time.Since(start))
			b.cfg.Spans.EndSpanWithError(span, err)
			return nil, err
		}
		// Durability degrades, availability wins: broadcast and report Ok.
		b.cfg.Broadcaster.Broadcast(ctx, evt)
		observability.LogPublishFallback(b.cfg.Logger, evt.Name, string(lane), err)
		b.cfg.Metrics.RecordPublish(ctx, string(lane), OutcomeFallback, time.Since(start))
		b.cfg.Spans.AddSpanEvent(ctx, "fallback_broadcast",
			attribute.String("event.type", evt.Type))
		b.cfg.Spans.EndSpanWithError(span, nil)
		return evt, nil
	}

	b.cfg.Metrics.RecordEnqueue(ctx, string(lane), true)
	b.observeThroughput(evt, lane, time.Since(start))
	b.cfg.Metrics.RecordPublish(ctx, string(lane), OutcomeEnqueued, time.Since(start))
	observability.LogPublish(b.cfg.Logger, evt.Name, string(lane), OutcomeEnqueued, done())
	b.cfg.Spans.EndSpanWithError(span, nil)
	return evt, nil
}

// MustPublish is Publish for call sites that consider an invalid event a
// programming error. It panics on failure.
func (b *Bus) MustPublish(ctx context.Context, evt *event.Event) *event.Event {
	out, err := b.Publish(ctx, evt)
	if err != nil {
		panic(fmt.Sprintf("publish %s: %v", evt.Name, err))
	}
	return out
}

// Audit implements event.AuditSink: audit events synthesized by the
// validator and acknowledger re-enter the pipeline as ordinary events.
// Failures here are swallowed; the audit path must not recurse.
func (b *Bus) Audit(evt *event.Event) {
	_, _ = b.Publish(context.Background(), evt)
}

// observeThroughput emits a telemetry sample, subject to the fanout guard.
func (b *Bus) observeThroughput(evt *event.Event, lane queue.Lane, d time.Duration) {
	if b.cfg.Telemetry == nil {
		return
	}
	if !b.shouldSample(evt) {
		return
	}
	b.cfg.Telemetry.RecordThroughput(string(lane), 1, d)
}

// observeFailure emits a failure sample, subject to the fanout guard.
func (b *Bus) observeFailure(evt *event.Event, reason, stage string) {
	if b.cfg.Telemetry == nil {
		return
	}
	if !b.shouldSample(evt) {
		return
	}
	lane := string(b.cfg.Classifier.Classify(evt))
	b.cfg.Telemetry.RecordFailure(lane, reason, evt.Name, stage)
}

func (b *Bus) shouldSample(evt *event.Event) bool {
	if b.cfg.Guard == nil {
		return true
	}
	return b.cfg.Guard.ShouldSample(telemetry.SampleMeta{
		Priority:  evt.Priority,
		EventName: evt.Name,
	})
}
