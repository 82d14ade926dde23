package config

import (
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// LaneOptions are per-lane polling knobs.
type LaneOptions struct {
	// PollInterval between claim attempts.
	PollInterval time.Duration

	// MaxBatch caps records claimed per tick.
	MaxBatch int

	// Concurrency bounds parallel consumer invocations.
	Concurrency int
}

// Options is the recognized configuration surface of the pipeline.
type Options struct {
	// ValidatorMode resolves validation failures: warn, raise or drop.
	ValidatorMode event.Mode

	// ReservedPrefixes are the allowed event name namespaces.
	ReservedPrefixes []string

	// QueuePath is the SQLite database path for the durable queue.
	QueuePath string

	// DefaultDomain is this process's domain for cross-domain routing.
	DefaultDomain string

	// Lanes holds per-lane polling options keyed by lane name. The
	// "default" entry applies to lanes without their own entry.
	Lanes map[string]LaneOptions

	// BurstThreshold is the fanout guard's per-window event budget.
	BurstThreshold int

	// SamplingWindow is the fanout guard's counter reset tick.
	SamplingWindow time.Duration

	// MaxFanoutSamples bounds retained telemetry samples per lane.
	MaxFanoutSamples int
}

// Default option values.
var DefaultOptions = Options{
	ValidatorMode:    event.ModeWarn,
	ReservedPrefixes: event.DefaultReservedPrefixes,
	QueuePath:        "./eventcore.db",
	Lanes: map[string]LaneOptions{
		"default": {
			PollInterval: 1 * time.Second,
			MaxBatch:     10,
			Concurrency:  4,
		},
	},
	BurstThreshold:   1000,
	SamplingWindow:   10 * time.Second,
	MaxFanoutSamples: 10000,
}

// LaneFor returns the options for a lane, falling back to "default".
func (o Options) LaneFor(lane string) LaneOptions {
	if lo, ok := o.Lanes[lane]; ok {
		return lo
	}
	return o.Lanes["default"]
}

// LoadOptions materializes Options from a parsed Config, applying defaults
// for anything missing.
func LoadOptions(cfg Config) Options {
	opts := DefaultOptions

	opts.ValidatorMode = event.Mode(cfg.String("validator_mode", string(opts.ValidatorMode)))
	opts.ReservedPrefixes = cfg.StringSlice("reserved_prefixes", opts.ReservedPrefixes)
	opts.QueuePath = cfg.String("queue_path", opts.QueuePath)
	opts.DefaultDomain = cfg.String("default_domain", opts.DefaultDomain)
	opts.BurstThreshold = cfg.Int("burst_threshold", opts.BurstThreshold)
	opts.SamplingWindow = cfg.Duration("sampling_window", opts.SamplingWindow)
	opts.MaxFanoutSamples = cfg.Int("max_fanout_samples", opts.MaxFanoutSamples)

	lanesCfg := cfg.Sub("lanes")
	def := opts.Lanes["default"]
	lanes := map[string]LaneOptions{"default": def}
	for name := range lanesCfg.Raw() {
		lc := lanesCfg.Sub(name)
		lanes[name] = LaneOptions{
			PollInterval: lc.Duration("poll_interval", def.PollInterval),
			MaxBatch:     lc.Int("max_batch", def.MaxBatch),
			Concurrency:  lc.Int("concurrency", def.Concurrency),
		}
	}
	opts.Lanes = lanes

	return opts
}
