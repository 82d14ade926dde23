package event

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// Mode selects how the validator resolves a failed event.
type Mode string

const (
	// ModeWarn logs the failure and returns it to the caller; processing continues.
	ModeWarn Mode = "warn"

	// ModeRaise returns the failure wrapped as fatal, for strict environments
	// where an invalid event is a programming error.
	ModeRaise Mode = "raise"

	// ModeDrop increments the dropped counter, publishes an audit event
	// describing the drop, and returns the failure.
	ModeDrop Mode = "drop"
)

// Reason identifies which validation rule rejected an event.
type Reason string

// Validation failure reasons, in rule order.
const (
	ReasonShortName            Reason = "short_name"
	ReasonReservedViolation    Reason = "reserved_violation"
	ReasonMissingCorrelationID Reason = "missing_correlation_id"
	ReasonBadCorrelationID     Reason = "bad_correlation_id"
	ReasonBadTaxonomyVersion   Reason = "bad_taxonomy_version"
	ReasonBadEventVersion      Reason = "bad_event_version"
	ReasonBadMeta              Reason = "bad_meta"
)

// ValidationError reports a rule failure for a specific event.
type ValidationError struct {
	Reason  Reason
	EventID string
	Name    string
	Detail  string
	Fatal   bool // set when resolved under ModeRaise
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("event %s invalid (%s): %s", e.EventID, e.Reason, e.Detail)
	}
	return fmt.Sprintf("event %s invalid (%s)", e.EventID, e.Reason)
}

// DefaultReservedPrefixes are the namespaces events may be published under.
var DefaultReservedPrefixes = []string{"system.", "ml.", "ui.", "audit.", "flow.", "grid."}

// uuidV7Pattern matches the 8-4-4-4-12 hex layout with version nibble 7
// and RFC 4122 variant nibble.
var uuidV7Pattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-7[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// AuditSink receives audit events synthesized by this package.
// The bus supplies itself so dropped events remain traceable.
type AuditSink interface {
	Audit(evt *Event)
}

// ValidatorConfig configures validation behavior. The failure mode is a
// process-level setting, not per call.
type ValidatorConfig struct {
	// Mode resolves failures. Default: ModeWarn.
	Mode Mode

	// ReservedPrefixes overrides DefaultReservedPrefixes when non-empty.
	ReservedPrefixes []string

	// Logger for warn-mode logging. Nil disables logging.
	Logger *slog.Logger

	// AuditSink receives drop audit events. Nil disables audit synthesis.
	AuditSink AuditSink
}

// Validator enforces taxonomy and shape rules before any queue write.
// Validation never mutates the event.
type Validator struct {
	cfg      ValidatorConfig
	prefixes []string

	dropped   atomic.Int64
	validated atomic.Int64
}

// NewValidator creates a validator with the given configuration.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.Mode == "" {
		cfg.Mode = ModeWarn
	}
	prefixes := cfg.ReservedPrefixes
	if len(prefixes) == 0 {
		prefixes = DefaultReservedPrefixes
	}
	return &Validator{cfg: cfg, prefixes: prefixes}
}

// SetAuditSink installs the sink receiving drop audit events. The bus calls
// this during construction so a validator built without a sink still gets
// its drops audited. Wiring-time only; not safe once validation has started.
func (v *Validator) SetAuditSink(s AuditSink) {
	v.cfg.AuditSink = s
}

// HasAuditSink reports whether a drop audit sink is installed.
func (v *Validator) HasAuditSink() bool {
	return v.cfg.AuditSink != nil
}

// Validate runs the rule chain and resolves any failure per the configured
// mode. A nil return means the event may be persisted.
func (v *Validator) Validate(evt *Event) error {
	verr := v.check(evt)
	if verr == nil {
		v.validated.Add(1)
		return nil
	}

	switch v.cfg.Mode {
	case ModeRaise:
		verr.Fatal = true
		return verr

	case ModeDrop:
		v.dropped.Add(1)
		v.audit(evt, verr)
		return verr

	default: // ModeWarn
		if v.cfg.Logger != nil {
			v.cfg.Logger.Warn("event failed validation",
				slog.String("event_id", evt.ID),
				slog.String("event_name", evt.Name),
				slog.String("reason", string(verr.Reason)),
			)
		}
		return verr
	}
}

// check applies the rules in order; the first failure wins.
func (v *Validator) check(evt *Event) *ValidationError {
	fail := func(reason Reason, detail string) *ValidationError {
		return &ValidationError{
			Reason:  reason,
			EventID: evt.ID,
			Name:    evt.Name,
			Detail:  detail,
		}
	}

	segments := strings.Split(evt.Name, ".")
	if evt.Name == "" || len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return fail(ReasonShortName, "name needs at least two dot-separated segments")
	}

	if !v.hasReservedPrefix(evt.Name) {
		return fail(ReasonReservedViolation,
			fmt.Sprintf("name %q is outside the reserved namespaces", evt.Name))
	}

	if evt.CorrelationID == "" {
		return fail(ReasonMissingCorrelationID, "")
	}
	if len(evt.CorrelationID) < 10 || !uuidV7Pattern.MatchString(evt.CorrelationID) {
		return fail(ReasonBadCorrelationID,
			fmt.Sprintf("correlation_id %q is not UUIDv7-shaped", evt.CorrelationID))
	}

	if evt.TaxonomyVersion < 1 {
		return fail(ReasonBadTaxonomyVersion,
			fmt.Sprintf("taxonomy_version %d must be >= 1", evt.TaxonomyVersion))
	}
	if evt.EventVersion < 1 {
		return fail(ReasonBadEventVersion,
			fmt.Sprintf("event_version %d must be >= 1", evt.EventVersion))
	}

	if evt.Meta == nil {
		return fail(ReasonBadMeta, "meta must be a key-value map, possibly empty")
	}

	return nil
}

func (v *Validator) hasReservedPrefix(name string) bool {
	for _, p := range v.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// audit synthesizes an audit event describing a dropped event. Drops of
// events already under the audit namespace are never re-audited: when the
// configured prefixes exclude "audit." the synthesized event fails
// validation itself, and auditing that drop would recurse without bound.
func (v *Validator) audit(evt *Event, verr *ValidationError) {
	if v.cfg.AuditSink == nil || strings.HasPrefix(evt.Name, "audit.") {
		return
	}

	audit := New("audit.event.dropped", "audit", "validator", map[string]any{
		"dropped_event_id":   evt.ID,
		"dropped_event_name": evt.Name,
		"reason":             string(verr.Reason),
		"detail":             verr.Detail,
		"dropped_at":         time.Now().UTC().Format(time.RFC3339Nano),
	})
	v.cfg.AuditSink.Audit(audit)
}

// Dropped returns the count of events dropped under ModeDrop.
func (v *Validator) Dropped() int64 {
	return v.dropped.Load()
}

// Validated returns the count of events that passed all rules.
func (v *Validator) Validated() int64 {
	return v.validated.Load()
}

// Mode returns the configured failure mode.
func (v *Validator) Mode() Mode {
	return v.cfg.Mode
}
