package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory queue store.
// Suitable for testing and single-instance deployments without durability
// requirements. The mutex makes every operation, claim included, atomic.
type MemoryStore struct {
	mu     sync.Mutex
	lanes  map[Lane]map[string]*Record
	closed bool
}

// NewMemoryStore creates an empty in-memory queue store.
func NewMemoryStore() *MemoryStore {
	lanes := make(map[Lane]map[string]*Record, len(Lanes))
	for _, lane := range Lanes {
		lanes[lane] = make(map[string]*Record)
	}
	return &MemoryStore{lanes: lanes}
}

// Enqueue implements Store.
func (m *MemoryStore) Enqueue(ctx context.Context, rec *Record) error {
	return m.EnqueueBatch(ctx, []*Record{rec})
}

// EnqueueBatch implements Store.
func (m *MemoryStore) EnqueueBatch(_ context.Context, recs []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Validate the whole batch before touching state: all or nothing.
	for _, rec := range recs {
		if !rec.PipelineType.Valid() {
			return fmt.Errorf("enqueue %s: unknown lane %q", rec.ID, rec.PipelineType)
		}
		if _, exists := m.lanes[rec.PipelineType][rec.ID]; exists {
			return fmt.Errorf("enqueue %s: %w", rec.ID, ErrDuplicate)
		}
	}

	for _, rec := range recs {
		stored := *rec
		stored.Status = StatusPending
		m.lanes[rec.PipelineType][rec.ID] = &stored
	}
	return nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context, lane Lane, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	var pending []*Record
	for _, rec := range m.lanes[lane] {
		if rec.Status == StatusPending {
			pending = append(pending, rec)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		wi, wj := pending[i].Priority.Weight(), pending[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}

	claimed := make([]*Record, 0, len(pending))
	for _, rec := range pending {
		rec.Status = StatusProcessing
		cp := *rec
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	rec := m.find(id)
	if rec == nil {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// AckSuccess implements Store.
func (m *MemoryStore) AckSuccess(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	for _, lane := range m.lanes {
		if _, ok := lane[id]; ok {
			delete(lane, id)
			return nil
		}
	}
	return ErrNotFound
}

// MarkRetrying implements Store.
func (m *MemoryStore) MarkRetrying(_ context.Context, id string, retryAt time.Time) error {
	return m.transition(id, func(rec *Record) {
		if rec.Status != StatusProcessing {
			return
		}
		rec.Status = StatusRetrying
		rec.Attempts++
		rec.RetryAt = retryAt
	})
}

// MarkFailed implements Store.
func (m *MemoryStore) MarkFailed(_ context.Context, id string) error {
	return m.transition(id, func(rec *Record) {
		if rec.Status != StatusProcessing {
			return
		}
		rec.Status = StatusFailed
		rec.Attempts++
		rec.RetryAt = time.Time{}
	})
}

// MarkDeadLetter implements Store. Idempotent on dead-lettered records.
func (m *MemoryStore) MarkDeadLetter(_ context.Context, id string) error {
	return m.transition(id, func(rec *Record) {
		if rec.Status == StatusDeadLetter {
			return
		}
		rec.Status = StatusDeadLetter
		rec.RetryAt = time.Time{}
	})
}

func (m *MemoryStore) transition(id string, apply func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	rec := m.find(id)
	if rec == nil {
		return ErrNotFound
	}
	apply(rec)
	return nil
}

func (m *MemoryStore) find(id string) *Record {
	for _, lane := range m.lanes {
		if rec, ok := lane[id]; ok {
			return rec
		}
	}
	return nil
}

// RequeueDue implements Store.
func (m *MemoryStore) RequeueDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	requeued := 0
	for _, lane := range m.lanes {
		for _, rec := range lane {
			if rec.Status != StatusRetrying && rec.Status != StatusFailed {
				continue
			}
			if rec.RetryAt.IsZero() || rec.RetryAt.After(now) {
				continue
			}
			rec.Status = StatusPending
			rec.RetryAt = time.Time{}
			requeued++
		}
	}
	return requeued, nil
}

// SweepProcessing implements Store.
func (m *MemoryStore) SweepProcessing(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	swept := 0
	for _, lane := range m.lanes {
		for _, rec := range lane {
			if rec.Status != StatusProcessing {
				continue
			}
			rec.Status = StatusFailed
			rec.Attempts++
			swept++
		}
	}
	return swept, nil
}

// Recover implements Store.
func (m *MemoryStore) Recover(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	rec := m.find(id)
	if rec == nil {
		return ErrNotFound
	}
	if rec.Status != StatusFailed && rec.Status != StatusDeadLetter {
		return fmt.Errorf("recover %s: record is not failed or dead-lettered", id)
	}
	rec.Status = StatusPending
	rec.Attempts = 0
	rec.RetryAt = time.Time{}
	return nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context, lane Lane) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	if m.closed {
		return stats, ErrStoreClosed
	}

	for _, rec := range m.lanes[lane] {
		stats.apply(rec.Status, 1)
	}
	return stats, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
