package telemetry

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// GuardConfig configures the fanout guard.
type GuardConfig struct {
	// BurstThreshold is the per-window event count that triggers burst mode.
	// Default: 1000
	BurstThreshold int

	// Window is the sliding counter window, reset on a fixed tick.
	// Default: 10 seconds
	Window time.Duration
}

// DefaultGuardConfig provides reasonable defaults.
var DefaultGuardConfig = GuardConfig{
	BurstThreshold: 1000,
	Window:         10 * time.Second,
}

// SampleMeta describes the event a telemetry sample belongs to.
type SampleMeta struct {
	Priority  event.Priority
	EventName string
}

// Guard protects the telemetry path from self-inflicted overload. Above the
// burst threshold it samples adaptively, targeting 80% of threshold
// utilization, clamped to [0.1, 1.0]. High-priority and critical events are
// always sampled. Guard state is a single counter behind one mutex.
type Guard struct {
	cfg GuardConfig

	mu          sync.Mutex
	windowStart time.Time
	seen        int
	burst       bool
	rate        float64
	dropped     int64
}

// NewGuard creates a fanout guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.BurstThreshold <= 0 {
		cfg.BurstThreshold = DefaultGuardConfig.BurstThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultGuardConfig.Window
	}
	return &Guard{
		cfg:         cfg,
		windowStart: time.Now(),
		rate:        1.0,
	}
}

// ShouldSample decides whether a telemetry sample is emitted.
// It increments the dropped counter on rejection.
func (g *Guard) ShouldSample(meta SampleMeta) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.maybeReset(time.Now())

	g.seen++
	if g.seen > g.cfg.BurstThreshold {
		g.burst = true
		// Target 80% of threshold utilization at the observed rate.
		g.rate = clampRate(0.8 * float64(g.cfg.BurstThreshold) / float64(g.seen))
	}

	if meta.Priority == event.PriorityHigh || meta.Priority == event.PriorityCritical {
		return true
	}

	if !g.burst {
		return true
	}

	if rand.Float64() < g.rate {
		return true
	}
	g.dropped++
	return false
}

// maybeReset starts a fresh window once the tick elapses, exiting burst
// mode and restoring full sampling.
func (g *Guard) maybeReset(now time.Time) {
	if now.Sub(g.windowStart) < g.cfg.Window {
		return
	}
	g.windowStart = now
	g.seen = 0
	g.burst = false
	g.rate = 1.0
}

// InBurst reports whether the guard is currently in burst mode.
func (g *Guard) InBurst() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.burst
}

// Rate returns the current sampling rate.
func (g *Guard) Rate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rate
}

// Dropped returns the total count of rejected samples.
func (g *Guard) Dropped() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}

func clampRate(r float64) float64 {
	if r < 0.1 {
		return 0.1
	}
	if r > 1.0 {
		return 1.0
	}
	return r
}
