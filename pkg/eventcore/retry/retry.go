// Package retry maps event taxonomy families to retry budgets and backoff
// curves. Policies are pure values derived from the event name; they are
// never persisted.
//
// The policy is the authority for attempt counting. Error classification
// (package errclass) stays advisory: it decides dead-letter eligibility and
// audit routing, never budgets.
package retry

import (
	"math"
	"strings"
	"time"
)

// Strategy selects the backoff curve.
type Strategy string

// Backoff strategies.
const (
	// StrategyNone retries immediately (or not at all when MaxAttempts is 1).
	StrategyNone Strategy = "none"

	// StrategyExponential backs off as BaseDelay * Multiplier^attempt.
	StrategyExponential Strategy = "exponential"
)

// Policy is the retry budget and backoff curve for one taxonomy family.
type Policy struct {
	// Category names the taxonomy family this policy covers.
	Category string

	// MaxAttempts is the total attempt budget, including the first.
	MaxAttempts int

	// Strategy selects the backoff curve.
	Strategy Strategy

	// BaseDelay is the delay before the first retry (exponential only).
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt (exponential only).
	Multiplier float64

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration
}

// Category budgets, keyed by name prefix. Higher-value workflow families get
// more attempts with slower curves than low-value UI command families.
var (
	// FlowPolicy covers multi-step workflow events; losing one mid-flight is
	// expensive, so the budget is generous.
	FlowPolicy = Policy{
		Category:    "flow",
		MaxAttempts: 5,
		Strategy:    StrategyExponential,
		BaseDelay:   2 * time.Second,
		Multiplier:  3.0,
		MaxDelay:    5 * time.Minute,
	}

	// MLPolicy covers training/trial events.
	MLPolicy = Policy{
		Category:    "ml",
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    2 * time.Minute,
	}

	// GridPolicy covers node-topology events.
	GridPolicy = Policy{
		Category:    "grid",
		MaxAttempts: 4,
		Strategy:    StrategyExponential,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    1 * time.Minute,
	}

	// SystemPolicy covers internal system events.
	SystemPolicy = Policy{
		Category:    "system",
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    1 * time.Minute,
	}

	// UIPolicy covers UI command events. Stale retries are worse than drops
	// here, so the budget is minimal.
	UIPolicy = Policy{
		Category:    "ui",
		MaxAttempts: 1,
		Strategy:    StrategyNone,
	}

	// AuditPolicy covers audit trail events, which must not be lost.
	AuditPolicy = Policy{
		Category:    "audit",
		MaxAttempts: 5,
		Strategy:    StrategyExponential,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    2 * time.Minute,
	}

	// DefaultPolicy covers everything else.
	DefaultPolicy = Policy{
		Category:    "default",
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    1 * time.Minute,
	}
)

// prefixPolicies is evaluated in order; first matching prefix wins.
var prefixPolicies = []struct {
	prefix string
	policy Policy
}{
	{"flow.", FlowPolicy},
	{"ml.", MLPolicy},
	{"grid.", GridPolicy},
	{"system.", SystemPolicy},
	{"ui.", UIPolicy},
	{"audit.", AuditPolicy},
}

// ForCategory returns the policy for an event taxonomy name.
func ForCategory(eventName string) Policy {
	for _, pp := range prefixPolicies {
		if strings.HasPrefix(eventName, pp.prefix) {
			return pp.policy
		}
	}
	return DefaultPolicy
}

// NextDelay returns the delay before retrying after the given attempt count.
// Attempt 0 is the first failure. Delays are monotonically non-decreasing
// in the attempt count.
func (p Policy) NextDelay(attempt int) time.Duration {
	if p.Strategy != StrategyExponential {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	delay := time.Duration(d)
	if d > float64(math.MaxInt64) {
		delay = time.Duration(math.MaxInt64)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether the attempt budget is spent.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
