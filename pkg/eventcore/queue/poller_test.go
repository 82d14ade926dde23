package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/queue"
)

// collector is a consumer that records which events it processed.
type collector struct {
	mu    sync.Mutex
	names []string
	fail  error
}

func (c *collector) consume(ctx context.Context, evt *event.Event, rec *queue.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.names = append(c.names, evt.Name)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestPoller(t *testing.T, store queue.Store, c *collector) *queue.Poller {
	t.Helper()
	return queue.NewPoller(queue.PollerConfig{
		Lane:         queue.LaneGeneral,
		Store:        store,
		Ack:          queue.NewAcknowledger(queue.AcknowledgerConfig{Store: store}),
		Consumer:     c.consume,
		PollInterval: 10 * time.Millisecond,
		MaxBatch:     10,
		Concurrency:  2,
	})
}

func TestPollerClaimsNothingWithoutDemand(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	c := &collector{}
	p := newTestPoller(t, store, c)
	ctx := context.Background()

	mustEnqueue(t, store, newTestRecord(t, "flow.idle.test", queue.LaneGeneral))

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)

	if got := c.count(); got != 0 {
		t.Errorf("poller consumed %d records with zero demand", got)
	}
	stats, _ := store.Stats(ctx, queue.LaneGeneral)
	if stats.Pending != 1 {
		t.Errorf("record must stay pending without demand, got %+v", stats)
	}
}

func TestPollerSatisfiesDemand(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	c := &collector{}
	p := newTestPoller(t, store, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustEnqueue(t, store, newTestRecord(t, fmt.Sprintf("flow.d%d.test", i), queue.LaneGeneral))
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	p.Request(2)

	if !waitFor(t, time.Second, func() bool { return c.count() == 2 }) {
		t.Fatalf("expected 2 consumed, got %d", c.count())
	}

	// No over-delivery: the third record stays pending.
	time.Sleep(30 * time.Millisecond)
	if got := c.count(); got != 2 {
		t.Errorf("poller over-delivered: %d", got)
	}
	if d := p.Demand(); d != 0 {
		t.Errorf("expected demand drained to 0, got %d", d)
	}
}

func TestPollerCarriesOverUnmetDemand(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	c := &collector{}
	p := newTestPoller(t, store, c)
	ctx := context.Background()

	mustEnqueue(t, store, newTestRecord(t, "flow.first.test", queue.LaneGeneral))

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	p.Request(3)
	if !waitFor(t, time.Second, func() bool { return c.count() == 1 }) {
		t.Fatalf("expected first record consumed, got %d", c.count())
	}

	// Unmet demand (2) must satisfy later arrivals without a new Request.
	mustEnqueue(t, store, newTestRecord(t, "flow.second.test", queue.LaneGeneral))
	mustEnqueue(t, store, newTestRecord(t, "flow.third.test", queue.LaneGeneral))

	if !waitFor(t, time.Second, func() bool { return c.count() == 3 }) {
		t.Fatalf("expected carried demand to drain later records, got %d", c.count())
	}
	if d := p.Demand(); d != 0 {
		t.Errorf("expected demand 0, got %d", d)
	}
}

func TestPollerFailureFeedsAcknowledger(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	c := &collector{fail: errors.New("downstream connect refused")}
	p := newTestPoller(t, store, c)
	ctx := context.Background()

	rec := newTestRecord(t, "ml.trial.failed", queue.LaneGeneral)
	mustEnqueue(t, store, rec)

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	p.Request(1)

	// A transient consumer error lands the record in retrying.
	if !waitFor(t, time.Second, func() bool {
		got, err := store.Get(ctx, rec.ID)
		return err == nil && got.Status == queue.StatusRetrying
	}) {
		got, _ := store.Get(ctx, rec.ID)
		t.Fatalf("expected retrying, got %+v", got)
	}
}

func TestPollerDeadLettersUndecodableRecords(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	c := &collector{}
	p := newTestPoller(t, store, c)
	ctx := context.Background()

	rec := newTestRecord(t, "flow.garbled.test", queue.LaneGeneral)
	rec.Data = []byte("{not json")
	mustEnqueue(t, store, rec)

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	p.Request(1)

	if !waitFor(t, time.Second, func() bool {
		got, err := store.Get(ctx, rec.ID)
		return err == nil && got.Status == queue.StatusDeadLetter
	}) {
		got, _ := store.Get(ctx, rec.ID)
		t.Fatalf("expected dead_letter for undecodable payload, got %+v", got)
	}
	if c.count() != 0 {
		t.Error("consumer must never see an undecodable record")
	}
}

func TestPollerRestarts(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	c := &collector{}
	p := newTestPoller(t, store, c)
	ctx := context.Background()

	mustEnqueue(t, store, newTestRecord(t, "flow.before.test", queue.LaneGeneral))

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Request(1)
	if !waitFor(t, time.Second, func() bool { return c.count() == 1 }) {
		t.Fatalf("expected first record consumed, got %d", c.count())
	}
	p.Stop()

	// A stopped poller claims nothing even with demand outstanding.
	mustEnqueue(t, store, newTestRecord(t, "flow.after.test", queue.LaneGeneral))
	p.Request(1)
	time.Sleep(50 * time.Millisecond)
	if got := c.count(); got != 1 {
		t.Fatalf("stopped poller must not consume, got %d", got)
	}

	// Restarting resumes polling with the carried demand.
	if err := p.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer p.Stop()
	if !waitFor(t, time.Second, func() bool { return c.count() == 2 }) {
		t.Fatalf("restarted poller must drain demand, got %d", c.count())
	}
}

func TestPollerStartSweepsStaleProcessing(t *testing.T) {
	store := queue.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec := newTestRecord(t, "flow.stale.test", queue.LaneGeneral)
	mustEnqueue(t, store, rec)
	if _, err := store.Claim(ctx, queue.LaneGeneral, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	c := &collector{}
	p := newTestPoller(t, store, c)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Errorf("startup must sweep stale processing records to failed, got %s", got.Status)
	}
}
