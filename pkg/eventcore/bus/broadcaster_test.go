package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/bus"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// received collects delivered events behind a lock.
type received struct {
	mu    sync.Mutex
	names []string
}

func (r *received) handler(ctx context.Context, evt *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, evt.Name)
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

func waitCount(t *testing.T, r *received, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.count() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", want, r.count())
}

func TestBroadcastByType(t *testing.T) {
	b := bus.NewBroadcaster(bus.BroadcasterConfig{})
	defer b.Close()

	steps := &received{}
	nodes := &received{}
	b.Subscribe([]string{"step"}, steps.handler)
	b.Subscribe([]string{"node"}, nodes.handler)

	b.Broadcast(context.Background(), event.New("flow.step.completed", "step", "engine", nil))
	b.Broadcast(context.Background(), event.New("grid.node.joined", "node", "grid", nil))
	b.Broadcast(context.Background(), event.New("flow.step.started", "step", "engine", nil))

	waitCount(t, steps, 2)
	waitCount(t, nodes, 1)
}

func TestSubscribeAll(t *testing.T) {
	b := bus.NewBroadcaster(bus.BroadcasterConfig{})
	defer b.Close()

	all := &received{}
	b.SubscribeAll(all.handler)

	b.Broadcast(context.Background(), event.New("flow.step.completed", "step", "engine", nil))
	b.Broadcast(context.Background(), event.New("grid.node.joined", "node", "grid", nil))

	waitCount(t, all, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := bus.NewBroadcaster(bus.BroadcasterConfig{})
	defer b.Close()

	r := &received{}
	sub := b.Subscribe([]string{"step"}, r.handler)

	b.Broadcast(context.Background(), event.New("flow.step.completed", "step", "engine", nil))
	waitCount(t, r, 1)

	sub.Unsubscribe()
	b.Broadcast(context.Background(), event.New("flow.step.started", "step", "engine", nil))

	time.Sleep(20 * time.Millisecond)
	if r.count() != 1 {
		t.Errorf("delivery after unsubscribe: %d", r.count())
	}
}

func TestBroadcastDropsOnFullBuffer(t *testing.T) {
	var droppedIDs []string
	var mu sync.Mutex
	b := bus.NewBroadcaster(bus.BroadcasterConfig{
		BufferSize: 1,
		OnDrop: func(evt *event.Event, subscriberID string) {
			mu.Lock()
			droppedIDs = append(droppedIDs, subscriberID)
			mu.Unlock()
		},
	})
	defer b.Close()

	block := make(chan struct{})
	b.Subscribe([]string{"step"}, func(ctx context.Context, evt *event.Event) {
		<-block
	})

	// First fills the in-flight handler, second fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		b.Broadcast(context.Background(), event.New("flow.step.completed", "step", "engine", nil))
	}
	close(block)

	if b.Dropped() == 0 {
		t.Error("expected drops on a full buffer")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(droppedIDs) == 0 {
		t.Error("expected OnDrop callbacks")
	}
}

func TestBroadcastAfterClose(t *testing.T) {
	b := bus.NewBroadcaster(bus.BroadcasterConfig{})

	r := &received{}
	b.SubscribeAll(r.handler)
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b.Broadcast(context.Background(), event.New("flow.step.completed", "step", "engine", nil))
	time.Sleep(20 * time.Millisecond)
	if r.count() != 0 {
		t.Errorf("delivery after close: %d", r.count())
	}

	if sub := b.Subscribe([]string{"step"}, r.handler); sub != nil {
		t.Error("subscribe after close must return nil")
	}
}
