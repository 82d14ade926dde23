package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the record doesn't exist.
	ErrNotFound = errors.New("queue record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("queue store is closed")

	// ErrDuplicate indicates a record with the same ID already exists.
	ErrDuplicate = errors.New("queue record already exists")
)

// Store persists queue records per lane.
// Implementations must be safe for concurrent use, and Claim must select
// records and flip them to processing in a single atomic unit.
type Store interface {
	// Enqueue inserts one pending record.
	Enqueue(ctx context.Context, rec *Record) error

	// EnqueueBatch inserts records in a single transaction:
	// either all become pending or none do.
	EnqueueBatch(ctx context.Context, recs []*Record) error

	// Claim atomically selects up to limit pending records from a lane,
	// ordered by priority then creation time, flips them to processing,
	// and returns them. The selection and the status flip are inseparable.
	Claim(ctx context.Context, lane Lane, limit int) ([]*Record, error)

	// Get returns a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// AckSuccess deletes a record. Success is final; the record vanishes.
	AckSuccess(ctx context.Context, id string) error

	// MarkRetrying moves a processing record to retrying with attempts+1
	// and the given due time. No-op if the record already advanced.
	MarkRetrying(ctx context.Context, id string, retryAt time.Time) error

	// MarkFailed moves a processing record to failed with attempts+1.
	// No-op if the record already advanced.
	MarkFailed(ctx context.Context, id string) error

	// MarkDeadLetter moves a record to dead_letter. Idempotent: a record
	// already dead-lettered is left untouched, attempts included.
	MarkDeadLetter(ctx context.Context, id string) error

	// RequeueDue flips retrying and failed records whose RetryAt has
	// passed back to pending, returning how many were requeued.
	RequeueDue(ctx context.Context, now time.Time) (int, error)

	// SweepProcessing moves every processing record to failed with
	// attempts+1. Run once at startup: a crash mid-processing means the
	// outcome is unknown and is treated pessimistically.
	SweepProcessing(ctx context.Context) (int, error)

	// Recover moves a failed or dead-lettered record back to pending with
	// attempts reset, for operator-driven reprocessing.
	Recover(ctx context.Context, id string) error

	// Stats returns per-status counts for a lane without mutating state.
	Stats(ctx context.Context, lane Lane) (Stats, error)

	// Close releases any resources.
	Close() error
}
