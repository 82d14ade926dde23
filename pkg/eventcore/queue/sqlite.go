package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// SQLiteStore persists queue records to SQLite, one table per lane.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a SQLite-backed queue store.
// The path should be a file path (e.g., "./queue.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: claim transactions must serialize, and SQLite
	// allows one writer at a time anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	for _, lane := range Lanes {
		table := tableFor(lane)
		if _, err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				created_at INTEGER NOT NULL,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				priority TEXT NOT NULL,
				weight INTEGER NOT NULL DEFAULT 1,
				retry_at INTEGER NOT NULL DEFAULT 0
			)
		`, table)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table %s: %w", table, err)
		}

		if _, err := db.Exec(fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_claim
			ON %s(status, weight DESC, created_at)
		`, table, table)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index on %s: %w", table, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// tableFor returns the table name owning a lane's records.
func tableFor(lane Lane) string {
	return "queue_" + string(lane)
}

// Enqueue implements Store.
func (s *SQLiteStore) Enqueue(ctx context.Context, rec *Record) error {
	return s.EnqueueBatch(ctx, []*Record{rec})
}

// EnqueueBatch implements Store. All records land pending or none do.
func (s *SQLiteStore) EnqueueBatch(ctx context.Context, recs []*Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if !rec.PipelineType.Valid() {
			return fmt.Errorf("enqueue %s: unknown lane %q", rec.ID, rec.PipelineType)
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, data, created_at, status, attempts, priority, weight, retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, tableFor(rec.PipelineType)),
			rec.ID, rec.Data, rec.CreatedAt.UnixNano(), string(StatusPending),
			rec.Attempts, string(rec.Priority), rec.Priority.Weight(), retryAtNanos(rec.RetryAt))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("enqueue %s: %w", rec.ID, ErrDuplicate)
			}
			return fmt.Errorf("enqueue %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// Claim implements Store. Selection and the pending->processing flip happen
// inside one transaction; concurrent claimers never receive the same record.
func (s *SQLiteStore) Claim(ctx context.Context, lane Lane, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	table := tableFor(lane)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, data, created_at, attempts, priority, retry_at
		FROM %s
		WHERE status = ?
		ORDER BY weight DESC, created_at ASC, id ASC
		LIMIT ?
	`, table), string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	var claimed []*Record
	for rows.Next() {
		rec := &Record{Status: StatusProcessing, PipelineType: lane}
		var createdAt, retryAt int64
		var priority string
		if err := rows.Scan(&rec.ID, &rec.Data, &createdAt, &rec.Attempts, &priority, &retryAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending record: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdAt)
		rec.Priority = event.Priority(priority)
		if retryAt > 0 {
			rec.RetryAt = time.Unix(0, retryAt)
		}
		claimed = append(claimed, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate pending records: %w", err)
	}
	rows.Close()

	for _, rec := range claimed {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = ? WHERE id = ? AND status = ?
		`, table), string(StatusProcessing), rec.ID, string(StatusPending)); err != nil {
			return nil, fmt.Errorf("flip %s to processing: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	for _, lane := range Lanes {
		rec := &Record{PipelineType: lane}
		var createdAt, retryAt int64
		var status, priority string
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT id, data, created_at, status, attempts, priority, retry_at
			FROM %s WHERE id = ?
		`, tableFor(lane)), id).Scan(
			&rec.ID, &rec.Data, &createdAt, &status, &rec.Attempts, &priority, &retryAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load record: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdAt)
		rec.Status = Status(status)
		rec.Priority = event.Priority(priority)
		if retryAt > 0 {
			rec.RetryAt = time.Unix(0, retryAt)
		}
		return rec, nil
	}
	return nil, ErrNotFound
}

// AckSuccess implements Store.
func (s *SQLiteStore) AckSuccess(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	for _, lane := range Lanes {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableFor(lane)), id)
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	return ErrNotFound
}

// MarkRetrying implements Store.
func (s *SQLiteStore) MarkRetrying(ctx context.Context, id string, retryAt time.Time) error {
	return s.transition(ctx, id, fmt.Sprintf(
		`SET status = '%s', attempts = attempts + 1, retry_at = %d WHERE id = ? AND status = '%s'`,
		StatusRetrying, retryAt.UnixNano(), StatusProcessing))
}

// MarkFailed implements Store.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string) error {
	return s.transition(ctx, id, fmt.Sprintf(
		`SET status = '%s', retry_at = 0, attempts = attempts + 1 WHERE id = ? AND status = '%s'`,
		StatusFailed, StatusProcessing))
}

// MarkDeadLetter implements Store. Idempotent on dead-lettered records.
func (s *SQLiteStore) MarkDeadLetter(ctx context.Context, id string) error {
	return s.transition(ctx, id, fmt.Sprintf(
		`SET status = '%s', retry_at = 0 WHERE id = ? AND status != '%s'`,
		StatusDeadLetter, StatusDeadLetter))
}

// transition applies a guarded status update across the lane tables.
// A record whose guard no longer matches is a no-op, not an error: something
// else already advanced it.
func (s *SQLiteStore) transition(ctx context.Context, id, clause string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	found := false
	for _, lane := range Lanes {
		table := tableFor(lane)
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s %s`, table, clause), id)
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		var one int
		err = s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table), id).Scan(&one)
		if err == nil {
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// RequeueDue implements Store.
func (s *SQLiteStore) RequeueDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	total := 0
	for _, lane := range Lanes {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = ?, retry_at = 0
			WHERE status IN (?, ?) AND retry_at > 0 AND retry_at <= ?
		`, tableFor(lane)),
			string(StatusPending), string(StatusRetrying), string(StatusFailed), now.UnixNano())
		if err != nil {
			return total, fmt.Errorf("requeue due records: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// SweepProcessing implements Store.
func (s *SQLiteStore) SweepProcessing(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	total := 0
	for _, lane := range Lanes {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = ?, attempts = attempts + 1
			WHERE status = ?
		`, tableFor(lane)), string(StatusFailed), string(StatusProcessing))
		if err != nil {
			return total, fmt.Errorf("sweep processing records: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// Recover implements Store.
func (s *SQLiteStore) Recover(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	for _, lane := range Lanes {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = ?, attempts = 0, retry_at = 0
			WHERE id = ? AND status IN (?, ?)
		`, tableFor(lane)),
			string(StatusPending), id, string(StatusFailed), string(StatusDeadLetter))
		if err != nil {
			return fmt.Errorf("recover record: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("recover %s: record is not failed or dead-lettered", id)
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context, lane Lane) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	if s.closed {
		return stats, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT status, COUNT(*) FROM %s GROUP BY status
	`, tableFor(lane)))
	if err != nil {
		return stats, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan count: %w", err)
		}
		stats.apply(Status(status), count)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate counts: %w", err)
	}
	return stats, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (st *Stats) apply(status Status, count int) {
	switch status {
	case StatusPending:
		st.Pending += count
	case StatusProcessing:
		st.Processing += count
	case StatusRetrying:
		st.Retrying += count
	case StatusFailed:
		st.Failed += count
	case StatusDeadLetter:
		st.DeadLetter += count
	}
	st.Total += count
}

func retryAtNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
