package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/eventcore/pkg/eventcore/errclass"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// Consumer processes one claimed record's event.
// A nil return acknowledges success and deletes the record; an error is
// classified and drives the retry/dead-letter decision.
type Consumer func(ctx context.Context, evt *event.Event, rec *Record) error

// ThroughputObserver receives throughput samples for the telemetry window.
type ThroughputObserver interface {
	RecordThroughput(lane string, count int, duration time.Duration)
}

// PollerConfig configures a per-lane poller.
type PollerConfig struct {
	// Lane this poller drains. Required.
	Lane Lane

	// Store holding the lane's records. Required.
	Store Store

	// Ack resolves outcomes. Required.
	Ack *Acknowledger

	// Consumer processes claimed records. Required.
	Consumer Consumer

	// PollInterval between claim attempts.
	// Default: 1 second
	PollInterval time.Duration

	// MaxBatch caps records claimed per tick.
	// Default: 10
	MaxBatch int

	// Concurrency bounds parallel consumer invocations.
	// Default: 4
	Concurrency int

	// Logger for poll activity. Nil disables logging.
	Logger *slog.Logger

	// Telemetry observes throughput. Optional.
	Telemetry ThroughputObserver

	// Spans traces record consumption. Defaults to NoopSpanManager.
	Spans observability.SpanManager
}

// DefaultPollerConfig provides reasonable defaults.
var DefaultPollerConfig = PollerConfig{
	PollInterval: 1 * time.Second,
	MaxBatch:     10,
	Concurrency:  4,
}

// Poller pulls records from one lane on a demand-driven protocol: consumers
// announce how many records they can accept via Request, and the poller
// never claims more than the unmet demand. This bounds memory and
// concurrency without an external rate limiter.
type Poller struct {
	cfg PollerConfig

	demand atomic.Int64
	wake   chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewPoller creates a poller for one lane.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollerConfig.PollInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultPollerConfig.MaxBatch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultPollerConfig.Concurrency
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}

	return &Poller{
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Request announces that the consumer can accept n more records.
// Unmet demand carries over to later ticks.
func (p *Poller) Request(n int) {
	if n <= 0 {
		return
	}
	p.demand.Add(int64(n))

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Demand returns the current unmet demand.
func (p *Poller) Demand() int64 {
	return p.demand.Load()
}

// Start sweeps stale processing records once, then begins polling.
// A crash mid-processing leaves an unknown outcome; the sweep treats it
// pessimistically before any new claim happens.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{}) // Stop closes the old one; each run gets its own
	stopCh := p.stopCh
	p.mu.Unlock()

	swept, err := p.cfg.Store.SweepProcessing(ctx)
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return err
	}
	if swept > 0 {
		observability.LogSweep(p.cfg.Logger, string(p.cfg.Lane), swept)
	}

	go p.run(ctx, stopCh)
	return nil
}

// Stop halts the poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

func (p *Poller) run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-p.wake:
			p.tick(ctx)
		}
	}
}

// tick requeues due retries, then claims up to the unmet demand.
func (p *Poller) tick(ctx context.Context) {
	if _, err := p.cfg.Store.RequeueDue(ctx, time.Now()); err != nil {
		if p.cfg.Logger != nil {
			p.cfg.Logger.Error("requeue due records failed",
				slog.String("lane", string(p.cfg.Lane)),
				slog.String("error", err.Error()),
			)
		}
	}

	want := int(p.demand.Load())
	if want <= 0 {
		return
	}
	if want > p.cfg.MaxBatch {
		want = p.cfg.MaxBatch
	}

	records, err := p.cfg.Store.Claim(ctx, p.cfg.Lane, want)
	if err != nil {
		if p.cfg.Logger != nil {
			p.cfg.Logger.Error("claim failed",
				slog.String("lane", string(p.cfg.Lane)),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if len(records) == 0 {
		return
	}
	p.demand.Add(-int64(len(records)))
	observability.LogClaim(p.cfg.Logger, string(p.cfg.Lane), len(records))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			p.process(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	if p.cfg.Telemetry != nil {
		p.cfg.Telemetry.RecordThroughput(string(p.cfg.Lane), len(records), time.Since(start))
	}
}

func (p *Poller) process(ctx context.Context, rec *Record) {
	ctx, span := p.cfg.Spans.StartConsumeSpan(ctx, rec.ID, string(p.cfg.Lane))

	evt, err := rec.Event()
	if err != nil {
		// Undecodable payloads are permanent: dead-letter via classification.
		_ = p.cfg.Ack.Failure(ctx, rec.ID, &errclass.StorageError{Op: "decode record", Err: err})
		p.cfg.Spans.EndSpanWithError(span, err)
		return
	}

	if err := p.cfg.Consumer(ctx, evt, rec); err != nil {
		if ackErr := p.cfg.Ack.Failure(ctx, rec.ID, err); ackErr != nil && p.cfg.Logger != nil {
			enriched := observability.EnrichLogger(p.cfg.Logger, evt.ID, evt.CorrelationID, string(p.cfg.Lane))
			enriched.Error("ack failure failed", slog.String("error", ackErr.Error()))
		}
		p.cfg.Spans.EndSpanWithError(span, err)
		return
	}

	if err := p.cfg.Ack.Success(ctx, rec.ID); err != nil && p.cfg.Logger != nil {
		p.cfg.Logger.Error("ack success failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	p.cfg.Spans.EndSpanWithError(span, nil)
}
