package errclass_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/randalmurphal/eventcore/pkg/eventcore/errclass"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

func TestClassifyTable(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		ctx        errclass.Context
		origin     errclass.Origin
		kind       errclass.Kind
		severity   errclass.Severity
		visibility errclass.Visibility
	}{
		{
			name:       "validation error",
			err:        &event.ValidationError{Reason: event.ReasonShortName, Name: "bogus"},
			origin:     errclass.OriginUser,
			kind:       errclass.KindValidation,
			severity:   errclass.SeverityWarn,
			visibility: errclass.VisibilityUserSafe,
		},
		{
			name:       "typed timeout default origin",
			err:        &errclass.TimeoutError{Operation: "fetch", Duration: "5s"},
			origin:     errclass.OriginSystem,
			kind:       errclass.KindTimeout,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "timeout honors caller origin",
			err:        &errclass.TimeoutError{Operation: "fetch", Duration: "5s"},
			ctx:        errclass.Context{Origin: errclass.OriginExternal},
			origin:     errclass.OriginExternal,
			kind:       errclass.KindTimeout,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "context deadline",
			err:        fmt.Errorf("doing work: %w", context.DeadlineExceeded),
			origin:     errclass.OriginSystem,
			kind:       errclass.KindTimeout,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "transport",
			err:        &errclass.TransportError{Op: "publish", Target: "broker:9092", Err: errors.New("connection reset")},
			origin:     errclass.OriginExternal,
			kind:       errclass.KindTransient,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "storage conflict is transient",
			err:        &errclass.ConflictError{Table: "queue_general", Err: errors.New("database is locked")},
			origin:     errclass.OriginInfrastructure,
			kind:       errclass.KindTransient,
			severity:   errclass.SeverityWarn,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "storage is permanent",
			err:        &errclass.StorageError{Op: "write", Err: errors.New("disk full")},
			origin:     errclass.OriginInfrastructure,
			kind:       errclass.KindPermanent,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "auth is security",
			err:        &errclass.AuthError{Subject: "svc-a", Action: "publish"},
			origin:     errclass.OriginUser,
			kind:       errclass.KindSecurity,
			severity:   errclass.SeverityWarn,
			visibility: errclass.VisibilityUserSafe,
		},
		{
			name:       "dependency",
			err:        &errclass.DependencyError{Dependency: "scheduler"},
			origin:     errclass.OriginInfrastructure,
			kind:       errclass.KindDependency,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "http 503",
			err:        &errclass.HTTPError{StatusCode: 503},
			origin:     errclass.OriginExternal,
			kind:       errclass.KindTransient,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "http 404",
			err:        &errclass.HTTPError{StatusCode: 404},
			origin:     errclass.OriginUser,
			kind:       errclass.KindPermanent,
			severity:   errclass.SeverityWarn,
			visibility: errclass.VisibilityUserSafe,
		},
		{
			name:       "timeout keyword",
			err:        fmt.Errorf("rpc: operation timeout after 3 retries"),
			origin:     errclass.OriginSystem,
			kind:       errclass.KindTimeout,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "connect keyword",
			err:        fmt.Errorf("dial tcp: cannot connect to host"),
			origin:     errclass.OriginExternal,
			kind:       errclass.KindTransient,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "bare sentinel",
			err:        errors.New("boom"),
			origin:     errclass.OriginSystem,
			kind:       errclass.KindPermanent,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
		{
			name:       "unrecognized structured error defaults transient",
			err:        &customError{msg: "unmapped failure"},
			origin:     errclass.OriginUnknown,
			kind:       errclass.KindTransient,
			severity:   errclass.SeverityError,
			visibility: errclass.VisibilityInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := errclass.Classify(tt.err, tt.ctx)

			if c.Origin != tt.origin {
				t.Errorf("origin: expected %s, got %s", tt.origin, c.Origin)
			}
			if c.Kind != tt.kind {
				t.Errorf("kind: expected %s, got %s", tt.kind, c.Kind)
			}
			if c.Severity != tt.severity {
				t.Errorf("severity: expected %s, got %s", tt.severity, c.Severity)
			}
			if c.Visibility != tt.visibility {
				t.Errorf("visibility: expected %s, got %s", tt.visibility, c.Visibility)
			}
			if c.Raw != tt.err {
				t.Error("expected Raw to carry the original error")
			}
		})
	}
}

type customError struct{ msg string }

func (e *customError) Error() string { return e.msg }

func TestClassifyNil(t *testing.T) {
	c := errclass.Classify(nil, errclass.Context{})
	if c.Kind != errclass.KindPermanent || c.Severity != errclass.SeverityInfo {
		t.Errorf("nil error should classify permanent/info, got %s/%s", c.Kind, c.Severity)
	}
}

func TestRuleOrdering(t *testing.T) {
	// A typed timeout whose message also says "connect" must hit the typed
	// timeout rule, not the connect keyword scan.
	err := &errclass.TimeoutError{Operation: "connect to broker", Duration: "2s"}
	c := errclass.Classify(err, errclass.Context{})
	if c.Kind != errclass.KindTimeout {
		t.Errorf("typed rule must win over keyword scan, got %s", c.Kind)
	}

	// A wrapped sentinel is not bare: fmt.Errorf with %w unwraps.
	wrapped := fmt.Errorf("stage failed: %w", errors.New("timeout waiting"))
	c = errclass.Classify(wrapped, errclass.Context{})
	if c.Kind != errclass.KindTimeout {
		t.Errorf("keyword scan should classify wrapped message, got %s", c.Kind)
	}
}

func TestClassifyCarriesContext(t *testing.T) {
	ctx := errclass.Context{Stage: "consume", EventName: "ml.trial.failed"}
	c := errclass.Classify(errors.New("boom"), ctx)
	if c.Context.Stage != "consume" || c.Context.EventName != "ml.trial.failed" {
		t.Errorf("context not carried: %+v", c.Context)
	}
}

func TestRetryable(t *testing.T) {
	retryable := []errclass.Kind{errclass.KindTransient, errclass.KindTimeout, errclass.KindDependency}
	for _, k := range retryable {
		if !errclass.Retryable(errclass.Class{Kind: k}) {
			t.Errorf("expected %s to be retryable", k)
		}
	}

	terminal := []errclass.Kind{errclass.KindValidation, errclass.KindPermanent, errclass.KindSecurity}
	for _, k := range terminal {
		if errclass.Retryable(errclass.Class{Kind: k}) {
			t.Errorf("expected %s to not be retryable", k)
		}
	}
}

func TestShouldDeadLetter(t *testing.T) {
	if !errclass.ShouldDeadLetter(errclass.Class{Kind: errclass.KindTransient}) {
		t.Error("exhausted transient failures belong in the dead letter queue")
	}
	if errclass.ShouldDeadLetter(errclass.Class{Kind: errclass.KindSecurity}) {
		t.Error("security failures must never dead-letter")
	}
	if errclass.ShouldDeadLetter(errclass.Class{Kind: errclass.KindValidation}) {
		t.Error("non-retryable failures skip the dead letter path here")
	}
}
