package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/errclass"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/retry"
)

// FailureObserver receives failure samples for the telemetry window.
type FailureObserver interface {
	RecordFailure(lane, reason, eventName, stage string)
}

// AcknowledgerConfig wires the acknowledger's collaborators.
type AcknowledgerConfig struct {
	// Store holds the records being acknowledged. Required.
	Store Store

	// AuditSink receives audit events for security-classified failures.
	// Nil disables audit routing (the record still avoids the dead letter
	// queue).
	AuditSink event.AuditSink

	// Telemetry observes failures. Optional.
	Telemetry FailureObserver

	// Logger for ack decisions. Nil disables logging.
	Logger *slog.Logger
}

// Acknowledger resolves consumer outcomes into record transitions.
//
// Two decision paths meet here: the retry policy is authoritative for
// attempt budgets; the error classifier is advisory, deciding dead-letter
// eligibility and audit routing. Raw errors are classified exactly once.
type Acknowledger struct {
	cfg AcknowledgerConfig
}

// NewAcknowledger creates an acknowledger over the given store.
func NewAcknowledger(cfg AcknowledgerConfig) *Acknowledger {
	return &Acknowledger{cfg: cfg}
}

// Success deletes the record. Success is final.
func (a *Acknowledger) Success(ctx context.Context, recordID string) error {
	return a.cfg.Store.AckSuccess(ctx, recordID)
}

// Failure classifies the cause, consults the retry policy for the record's
// event category, and advances the record:
//
//   - security class: routed to the audit channel, record marked failed,
//     never dead-lettered, never silently dropped
//   - non-retryable class: dead-lettered immediately
//   - budget exhausted: dead-lettered
//   - otherwise: retrying, with a durable retry-due time
//
// Calling Failure on a record already in dead_letter is a no-op.
func (a *Acknowledger) Failure(ctx context.Context, recordID string, cause error) error {
	rec, err := a.cfg.Store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("ack failure: %w", err)
		}
		return fmt.Errorf("ack failure: load record: %w", err)
	}
	if rec.Status.Terminal() {
		return nil
	}

	eventName := ""
	if evt, err := rec.Event(); err == nil {
		eventName = evt.Name
	}

	class := errclass.Classify(cause, errclass.Context{
		Stage:     "consume",
		EventName: eventName,
	})
	policy := retry.ForCategory(eventName)
	attempted := rec.Attempts + 1

	a.observeFailure(rec, class)

	switch {
	case class.Kind == errclass.KindSecurity:
		a.auditSecurity(rec, class)
		a.log(rec, class, "failed", "security failure routed to audit channel")
		return a.cfg.Store.MarkFailed(ctx, recordID)

	case !errclass.Retryable(class):
		observability.LogDeadLetter(a.cfg.Logger, rec.ID, string(rec.PipelineType), string(class.Kind), rec.Attempts)
		return a.cfg.Store.MarkDeadLetter(ctx, recordID)

	case policy.Exhausted(attempted):
		// Only retryable, non-security classes reach here, and those are
		// always dead-letter eligible.
		observability.LogDeadLetter(a.cfg.Logger, rec.ID, string(rec.PipelineType), string(class.Kind), attempted)
		return a.cfg.Store.MarkDeadLetter(ctx, recordID)

	default:
		retryAt := time.Now().Add(policy.NextDelay(rec.Attempts))
		a.log(rec, class, "retrying", "retry scheduled")
		return a.cfg.Store.MarkRetrying(ctx, recordID, retryAt)
	}
}

func (a *Acknowledger) observeFailure(rec *Record, class errclass.Class) {
	if a.cfg.Telemetry == nil {
		return
	}
	a.cfg.Telemetry.RecordFailure(
		string(rec.PipelineType), string(class.Kind), class.Context.EventName, "consume")
}

func (a *Acknowledger) auditSecurity(rec *Record, class errclass.Class) {
	if a.cfg.AuditSink == nil {
		return
	}

	detail := ""
	if class.Raw != nil {
		detail = class.Raw.Error()
	}
	audit := event.New("audit.security.failure", "audit", "acknowledger", map[string]any{
		"record_id":  rec.ID,
		"lane":       string(rec.PipelineType),
		"event_name": class.Context.EventName,
		"detail":     detail,
	}, event.WithPriority(event.PriorityCritical))
	a.cfg.AuditSink.Audit(audit)
}

func (a *Acknowledger) log(rec *Record, class errclass.Class, next, why string) {
	if a.cfg.Logger == nil {
		return
	}
	a.cfg.Logger.Info("record failure acknowledged",
		slog.String("record_id", rec.ID),
		slog.String("lane", string(rec.PipelineType)),
		slog.String("class", string(class.Kind)),
		slog.String("origin", string(class.Origin)),
		slog.Int("attempts", rec.Attempts),
		slog.String("next_status", next),
		slog.String("decision", why),
	)
}
