// Package telemetry aggregates rolling-window throughput, failure and
// health data per processing lane, and guards the telemetry path itself
// against self-inflicted overload during bursts.
//
// Aggregates are explicitly owned: construct a Pipeline or Guard and pass
// it where it's needed. There are no package-level singletons, so tests
// get isolated instances.
package telemetry

import (
	"sync"
	"time"
)

// SampleKind distinguishes window entries.
type SampleKind string

// Sample kinds.
const (
	KindThroughput SampleKind = "throughput"
	KindFailure    SampleKind = "failure"
)

// Sample is one rolling-window entry for a lane.
type Sample struct {
	Timestamp time.Time
	Kind      SampleKind

	// Throughput fields
	Count    int
	Duration time.Duration

	// Failure fields
	Reason    string
	EventName string
	Stage     string
}

// PipelineConfig configures the rolling window.
type PipelineConfig struct {
	// Retention bounds how long samples are kept.
	// Default: 5 minutes
	Retention time.Duration

	// QueryWindow is the default aggregation window for snapshots.
	// Default: 60 seconds
	QueryWindow time.Duration

	// MaxSamples bounds retained samples per lane regardless of age.
	// Default: 10000
	MaxSamples int
}

// DefaultPipelineConfig provides reasonable defaults.
var DefaultPipelineConfig = PipelineConfig{
	Retention:   5 * time.Minute,
	QueryWindow: 60 * time.Second,
	MaxSamples:  10000,
}

// Pipeline maintains per-lane rolling sample logs. Writes may come from any
// goroutine; lanes never require cross-lane locking. All reads are
// non-destructive.
type Pipeline struct {
	cfg PipelineConfig

	mu    sync.RWMutex
	lanes map[string][]Sample
}

// NewPipeline creates a telemetry pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultPipelineConfig.Retention
	}
	if cfg.QueryWindow <= 0 {
		cfg.QueryWindow = DefaultPipelineConfig.QueryWindow
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultPipelineConfig.MaxSamples
	}
	return &Pipeline{
		cfg:   cfg,
		lanes: make(map[string][]Sample),
	}
}

// RecordThroughput appends a throughput sample for a lane.
func (p *Pipeline) RecordThroughput(lane string, count int, duration time.Duration) {
	p.append(lane, Sample{
		Timestamp: time.Now(),
		Kind:      KindThroughput,
		Count:     count,
		Duration:  duration,
	})
}

// RecordFailure appends a failure sample for a lane.
func (p *Pipeline) RecordFailure(lane, reason, eventName, stage string) {
	p.append(lane, Sample{
		Timestamp: time.Now(),
		Kind:      KindFailure,
		Reason:    reason,
		EventName: eventName,
		Stage:     stage,
	})
}

// append adds a sample and prunes entries older than the retention bound.
func (p *Pipeline) append(lane string, s Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := append(p.lanes[lane], s)

	cutoff := time.Now().Add(-p.cfg.Retention)
	firstLive := 0
	for firstLive < len(samples) && samples[firstLive].Timestamp.Before(cutoff) {
		firstLive++
	}
	if over := len(samples) - firstLive - p.cfg.MaxSamples; over > 0 {
		firstLive += over
	}
	if firstLive > 0 {
		samples = append(samples[:0:0], samples[firstLive:]...)
	}

	p.lanes[lane] = samples
}

// Samples returns a copy of a lane's samples within the query window.
func (p *Pipeline) Samples(lane string) []Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cutoff := time.Now().Add(-p.cfg.QueryWindow)
	var out []Sample
	for _, s := range p.lanes[lane] {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot is the aggregated health of one lane over the query window.
type Snapshot struct {
	Score            float64       `json:"score"`
	SuccessRate      float64       `json:"success_rate"`
	AvgLatency       time.Duration `json:"avg_latency"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
	FailureCount     int           `json:"failure_count"`
	TotalProcessed   int           `json:"total_processed"`
}

// HealthSnapshot aggregates a lane's query window.
// Score weighs success rate at 0.7 and latency health at 0.3.
func (p *Pipeline) HealthSnapshot(lane string) Snapshot {
	samples := p.Samples(lane)

	total := 0
	failures := 0
	var busy time.Duration
	for _, s := range samples {
		switch s.Kind {
		case KindThroughput:
			total += s.Count
			busy += s.Duration
		case KindFailure:
			failures++
		}
	}

	successRate := 1.0
	if total+failures > 0 {
		successRate = float64(total) / float64(total+failures)
	}

	var avgLatency time.Duration
	if total > 0 {
		avgLatency = busy / time.Duration(total)
	}

	return Snapshot{
		Score:            0.7*successRate + 0.3*latencyHealth(avgLatency),
		SuccessRate:      successRate,
		AvgLatency:       avgLatency,
		ThroughputPerSec: float64(total) / p.cfg.QueryWindow.Seconds(),
		FailureCount:     failures,
		TotalProcessed:   total,
	}
}

// latencyHealth maps average latency buckets to a health contribution.
func latencyHealth(avg time.Duration) float64 {
	switch {
	case avg <= 1*time.Millisecond:
		return 1.0
	case avg <= 10*time.Millisecond:
		return 0.8
	case avg <= 50*time.Millisecond:
		return 0.6
	case avg <= 100*time.Millisecond:
		return 0.4
	default:
		return 0.2
	}
}
