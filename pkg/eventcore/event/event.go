// Package event defines the canonical event envelope and the validator
// that gates every event before it reaches a durable queue.
//
// This package implements the ingestion boundary of the pipeline:
//   - Event: immutable envelope with taxonomy name, correlation and versioning
//   - Validator: ordered shape/taxonomy rules with configurable failure modes
//   - Audit events synthesized when an invalid event is dropped
//
// Design Influences:
//   - CloudEvents (envelope attributes, source/type separation)
//   - Confluent Schema Registry (independent taxonomy vs payload versioning)
//   - AWS EventBridge (bus-side validation before persistence)
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority orders events within a queue lane.
type Priority string

// Priority levels, lowest to highest.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Weight returns the numeric claim ordering weight (higher claims first).
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid returns true for a recognized priority level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Recognized meta keys.
const (
	// MetaPipeline is an explicit lane hint: "realtime", "cross_domain" or "general".
	MetaPipeline = "pipeline"

	// MetaTargetDomain marks an event addressed to another domain.
	MetaTargetDomain = "target_domain"

	// MetaPublishedAt records when the bus accepted the event.
	MetaPublishedAt = "published_at"
)

// Event is the canonical envelope all pipeline components operate on.
// Events are immutable once created - any modification creates a new event.
type Event struct {
	// ID uniquely identifies the event. Assigned at creation.
	ID string `json:"id"`

	// Name is the dot-segmented taxonomy name (e.g. "ml.trial.failed").
	// Must have at least two segments and start with a reserved prefix.
	Name string `json:"name"`

	// Type is the coarse category tag (e.g. "trial", "command").
	Type string `json:"type"`

	// Source is the originating subsystem tag.
	Source string `json:"source"`

	// Payload is producer-defined structured data.
	Payload any `json:"payload,omitempty"`

	// CorrelationID groups related events across services.
	// Must be UUIDv7-shaped.
	CorrelationID string `json:"correlation_id"`

	// Priority influences claim ordering within a lane.
	Priority Priority `json:"priority"`

	// TaxonomyVersion versions the naming taxonomy itself.
	TaxonomyVersion int `json:"taxonomy_version"`

	// EventVersion versions the per-event-type payload shape.
	// Evolves independently of (and faster than) TaxonomyVersion.
	EventVersion int `json:"event_version"`

	// Meta is an open key-value bag. See the Meta* key constants.
	Meta map[string]any `json:"meta"`

	// OccurredAt is when the event was created.
	OccurredAt time.Time `json:"occurred_at"`
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// WithPriority sets the event priority (default: normal).
func WithPriority(p Priority) Option {
	return func(e *Event) {
		e.Priority = p
	}
}

// WithVersions sets taxonomy and event versions (default: 1, 1).
func WithVersions(taxonomy, event int) Option {
	return func(e *Event) {
		e.TaxonomyVersion = taxonomy
		e.EventVersion = event
	}
}

// WithMeta merges the given keys into the event meta bag.
func WithMeta(meta map[string]any) Option {
	return func(e *Event) {
		for k, v := range meta {
			e.Meta[k] = v
		}
	}
}

// WithPipelineHint sets the explicit lane hint in meta.
func WithPipelineHint(lane string) Option {
	return func(e *Event) {
		e.Meta[MetaPipeline] = lane
	}
}

// WithTimestamp sets a specific occurrence time (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.OccurredAt = t
	}
}

// New creates an event with the given taxonomy name, type, source and payload.
// The correlation ID defaults to a fresh UUIDv7 so the event can act as the
// root of its own trace.
func New(name, eventType, source string, payload any, opts ...Option) *Event {
	e := &Event{
		ID:              uuid.New().String(),
		Name:            name,
		Type:            eventType,
		Source:          source,
		Payload:         payload,
		Priority:        PriorityNormal,
		TaxonomyVersion: 1,
		EventVersion:    1,
		Meta:            make(map[string]any),
		OccurredAt:      time.Now(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.CorrelationID == "" {
		e.CorrelationID = NewCorrelationID()
	}

	return e
}

// NewFromParent creates an event caused by a parent event.
// It inherits the parent's correlation ID.
func NewFromParent(parent *Event, name, eventType, source string, payload any, opts ...Option) *Event {
	parentOpts := []Option{
		WithCorrelationID(parent.CorrelationID),
	}
	return New(name, eventType, source, payload, append(parentOpts, opts...)...)
}

// NewCorrelationID returns a fresh UUIDv7 string.
// Falls back to a random UUIDv4 only if the system clock source fails,
// which still satisfies uniqueness if not sortability.
func NewCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// PipelineHint returns the explicit lane hint from meta, if any.
func (e *Event) PipelineHint() (string, bool) {
	v, ok := e.Meta[MetaPipeline]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// TargetDomain returns the cross-domain target from meta, if any.
func (e *Event) TargetDomain() (string, bool) {
	v, ok := e.Meta[MetaTargetDomain]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Marshal serializes the event for queue persistence.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an event previously stored with Marshal.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
