package bus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// SubscriberFunc handles one broadcast event.
type SubscriberFunc func(ctx context.Context, evt *event.Event)

// Subscription represents an active broadcast subscription.
type Subscription interface {
	// Unsubscribe removes the subscription.
	Unsubscribe()
}

// BroadcasterConfig configures broadcast behavior.
type BroadcasterConfig struct {
	// BufferSize is the channel buffer size per subscription.
	// Default: 256
	BufferSize int

	// OnDrop is called when a subscriber's buffer is full and an event
	// is dropped.
	OnDrop func(evt *event.Event, subscriberID string)
}

// DefaultBroadcasterConfig provides reasonable defaults.
var DefaultBroadcasterConfig = BroadcasterConfig{
	BufferSize: 256,
}

// Broadcaster is the best-effort, non-durable delivery path, used only when
// the durable queue is unavailable. Topics are keyed by event type.
// Delivery is non-blocking: a slow subscriber loses events rather than
// stalling the publisher, which is acceptable on this path only.
type Broadcaster struct {
	config BroadcasterConfig

	mu        sync.RWMutex
	byType    map[string]map[string]*broadcastSub
	wildcards map[string]*broadcastSub

	nextID  atomic.Int64
	dropped atomic.Int64
	closed  atomic.Bool
}

// NewBroadcaster creates a best-effort broadcaster.
func NewBroadcaster(config BroadcasterConfig) *Broadcaster {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBroadcasterConfig.BufferSize
	}
	return &Broadcaster{
		config:    config,
		byType:    make(map[string]map[string]*broadcastSub),
		wildcards: make(map[string]*broadcastSub),
	}
}

type broadcastSub struct {
	id     string
	types  []string // empty = all types
	fn     SubscriberFunc
	events chan *event.Event
	done   chan struct{}
	b      *Broadcaster
}

// Broadcast delivers an event to all subscribers of its type topic.
// Never blocks; full buffers drop.
func (b *Broadcaster) Broadcast(_ context.Context, evt *event.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]*broadcastSub, 0, len(b.wildcards))
	for _, sub := range b.byType[evt.Type] {
		subs = append(subs, sub)
	}
	for _, sub := range b.wildcards {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.events <- evt:
		default:
			b.dropped.Add(1)
			if b.config.OnDrop != nil {
				b.config.OnDrop(evt, sub.id)
			}
		}
	}
}

// Subscribe registers a handler for specific event type topics.
// Returns nil if the broadcaster is closed.
func (b *Broadcaster) Subscribe(types []string, fn SubscriberFunc) Subscription {
	if sub := b.subscribe(types, fn); sub != nil {
		return sub
	}
	return nil
}

// SubscribeAll registers a handler for every topic.
// Returns nil if the broadcaster is closed.
func (b *Broadcaster) SubscribeAll(fn SubscriberFunc) Subscription {
	if sub := b.subscribe(nil, fn); sub != nil {
		return sub
	}
	return nil
}

func (b *Broadcaster) subscribe(types []string, fn SubscriberFunc) *broadcastSub {
	if b.closed.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &broadcastSub{
		id:     strconv.FormatInt(b.nextID.Add(1), 10),
		types:  types,
		fn:     fn,
		events: make(chan *event.Event, b.config.BufferSize),
		done:   make(chan struct{}),
		b:      b,
	}

	if len(types) == 0 {
		b.wildcards[sub.id] = sub
	} else {
		for _, t := range types {
			if b.byType[t] == nil {
				b.byType[t] = make(map[string]*broadcastSub)
			}
			b.byType[t][sub.id] = sub
		}
	}

	go sub.process()
	return sub
}

func (s *broadcastSub) process() {
	for {
		select {
		case evt := <-s.events:
			s.fn(context.Background(), evt)
		case <-s.done:
			return
		}
	}
}

// Unsubscribe removes the subscription.
func (s *broadcastSub) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	delete(s.b.wildcards, s.id)
	for _, t := range s.types {
		if typeSubs, ok := s.b.byType[t]; ok {
			delete(typeSubs, s.id)
		}
	}
	close(s.done)
}

// Dropped returns the count of events dropped on full subscriber buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts down the broadcaster and all subscriptions.
func (b *Broadcaster) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool)
	for _, sub := range b.wildcards {
		if !seen[sub.id] {
			seen[sub.id] = true
			close(sub.done)
		}
	}
	for _, subs := range b.byType {
		for _, sub := range subs {
			if !seen[sub.id] {
				seen[sub.id] = true
				close(sub.done)
			}
		}
	}
	return nil
}
