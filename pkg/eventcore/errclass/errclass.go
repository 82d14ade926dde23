// Package errclass maps arbitrary failure values into structured
// classifications that drive the retry-vs-dead-letter decision.
//
// Classification is an ordered chain of predicate+mapper rules evaluated
// first-match-wins, most specific first. Raw errors are never inspected
// ad hoc elsewhere: consumers classify once and act on the result.
package errclass

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Origin identifies which party produced a failure.
type Origin string

// Failure origins.
const (
	OriginUser           Origin = "user"
	OriginSystem         Origin = "system"
	OriginExternal       Origin = "external"
	OriginInfrastructure Origin = "infrastructure"
	OriginUnknown        Origin = "unknown"
)

// Kind is the coarse failure class.
type Kind string

// Failure classes.
const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindTimeout    Kind = "timeout"
	KindDependency Kind = "dependency"
	KindSecurity   Kind = "security"
)

// Severity grades a failure for logging and alerting.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Visibility controls whether a classification may be rendered to end users.
type Visibility string

// Visibility levels.
const (
	// VisibilityUserSafe classifications may be shown to end users.
	VisibilityUserSafe Visibility = "user_safe"

	// VisibilityInternal classifications are logged and traced, never
	// exposed verbatim.
	VisibilityInternal Visibility = "internal_only"
)

// Class is the structured classification of one failure.
type Class struct {
	Origin     Origin
	Kind       Kind
	Severity   Severity
	Visibility Visibility

	// Raw is the original error value.
	Raw error

	// Context describes where the failure surfaced.
	Context Context
}

// Context carries caller-side knowledge into classification.
type Context struct {
	// Origin overrides the classified origin where the rule defers to the
	// caller (timeouts: the caller knows whose clock expired).
	Origin Origin

	// Stage names the pipeline stage that observed the failure.
	Stage string

	// EventName is the taxonomy name of the event being processed, if any.
	EventName string
}

// Rule is one predicate+mapper pair in the classification chain.
type Rule struct {
	// Name identifies the rule in tests and traces.
	Name string

	// Match reports whether this rule applies to the error.
	Match func(err error) bool

	// Map builds the classification. Only called when Match returned true.
	Map func(err error, ctx Context) Class
}

// Rules is the ordered classification chain, most specific first.
// The ordering is load-bearing: earlier rules shadow later ones.
var Rules = []Rule{
	{
		Name: "validation",
		Match: func(err error) bool {
			var verr *event.ValidationError
			return errors.As(err, &verr)
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginUser, Kind: KindValidation, Severity: SeverityWarn, Visibility: VisibilityUserSafe, Raw: err, Context: ctx}
		},
	},
	{
		Name: "timeout",
		Match: func(err error) bool {
			var terr *TimeoutError
			return errors.As(err, &terr) || errors.Is(err, context.DeadlineExceeded)
		},
		Map: func(err error, ctx Context) Class {
			origin := ctx.Origin
			if origin == "" {
				origin = OriginSystem
			}
			return Class{Origin: origin, Kind: KindTimeout, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
	{
		Name: "transport",
		Match: func(err error) bool {
			var terr *TransportError
			return errors.As(err, &terr)
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginExternal, Kind: KindTransient, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
	{
		Name: "storage_conflict",
		Match: func(err error) bool {
			var cerr *ConflictError
			return errors.As(err, &cerr)
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginInfrastructure, Kind: KindTransient, Severity: SeverityWarn, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
	{
		Name: "storage",
		Match: func(err error) bool {
			var serr *StorageError
			return errors.As(err, &serr)
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginInfrastructure, Kind: KindPermanent, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
	{
		Name: "auth",
		Match: func(err error) bool {
			var aerr *AuthError
			return errors.As(err, &aerr)
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginUser, Kind: KindSecurity, Severity: SeverityWarn, Visibility: VisibilityUserSafe, Raw: err, Context: ctx}
		},
	},
	{
		Name: "dependency",
		Match: func(err error) bool {
			var derr *DependencyError
			return errors.As(err, &derr)
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginInfrastructure, Kind: KindDependency, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
	{
		Name: "http",
		Match: func(err error) bool {
			var herr *HTTPError
			return errors.As(err, &herr)
		},
		Map: func(err error, ctx Context) Class {
			var herr *HTTPError
			errors.As(err, &herr)
			if herr.StatusCode >= 500 {
				return Class{Origin: OriginExternal, Kind: KindTransient, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
			}
			return Class{Origin: OriginUser, Kind: KindPermanent, Severity: SeverityWarn, Visibility: VisibilityUserSafe, Raw: err, Context: ctx}
		},
	},
	{
		Name: "keyword_timeout",
		Match: func(err error) bool {
			return strings.Contains(strings.ToLower(err.Error()), "timeout")
		},
		Map: func(err error, ctx Context) Class {
			origin := ctx.Origin
			if origin == "" {
				origin = OriginSystem
			}
			return Class{Origin: origin, Kind: KindTimeout, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
	{
		Name: "keyword_connect",
		Match: func(err error) bool {
			return strings.Contains(strings.ToLower(err.Error()), "connect")
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginExternal, Kind: KindTransient, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
	{
		Name: "bare_sentinel",
		Match: func(err error) bool {
			// A plain errors.New value with no wrapping and no structure.
			return errors.Unwrap(err) == nil && isErrorString(err)
		},
		Map: func(err error, ctx Context) Class {
			return Class{Origin: OriginSystem, Kind: KindPermanent, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
		},
	},
}

// errorStringType is the concrete type produced by errors.New and by
// fmt.Errorf without %w.
var errorStringType = reflect.TypeOf(errors.New(""))

// isErrorString reports whether err is a bare errors.New value with no
// wrapping and no structure.
func isErrorString(err error) bool {
	return reflect.TypeOf(err) == errorStringType
}

// Classify maps an arbitrary failure into a Class by walking the rule chain.
// Unrecognized failures default to {unknown, transient}: retrying an unknown
// failure is preferred over silently dropping it.
func Classify(err error, ctx Context) Class {
	if err == nil {
		return Class{Origin: OriginUnknown, Kind: KindPermanent, Severity: SeverityInfo, Visibility: VisibilityInternal, Context: ctx}
	}

	for _, rule := range Rules {
		if rule.Match(err) {
			return rule.Map(err, ctx)
		}
	}

	return Class{Origin: OriginUnknown, Kind: KindTransient, Severity: SeverityError, Visibility: VisibilityInternal, Raw: err, Context: ctx}
}

// Retryable reports whether a failure of this class is worth retrying.
func Retryable(c Class) bool {
	switch c.Kind {
	case KindTransient, KindTimeout, KindDependency:
		return true
	}
	return false
}

// ShouldDeadLetter reports whether an exhausted record of this class belongs
// in the dead letter queue. Security failures are excluded: they route to
// the audit channel instead, regardless of attempt count.
func ShouldDeadLetter(c Class) bool {
	return Retryable(c) && c.Kind != KindSecurity
}
