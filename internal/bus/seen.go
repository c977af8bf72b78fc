package bus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/kira/internal/storage"
)

// SeenStore is the SQLite-backed idempotency store. An event ID present in
// the store produces no side effects on re-delivery.
type SeenStore struct {
	db *sql.DB
}

// DefaultSeenTTL is how long idempotency records are retained before the
// sweep job removes them.
const DefaultSeenTTL = 30 * 24 * time.Hour

var seenDDL = []string{
	`CREATE TABLE IF NOT EXISTS seen_events (
		event_id      TEXT PRIMARY KEY,
		first_seen_ts TEXT NOT NULL,
		last_seen_ts  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_seen_events_first_seen ON seen_events(first_seen_ts)`,
}

// NewSeenStore creates the seen_events table if needed.
func NewSeenStore(db *sql.DB) (*SeenStore, error) {
	if err := storage.Migrate(db, seenDDL); err != nil {
		return nil, fmt.Errorf("bus: init seen store: %w", err)
	}
	return &SeenStore{db: db}, nil
}

// MarkIfNew records the event ID and reports whether it was new. A
// duplicate updates last_seen_ts and returns false.
func (s *SeenStore) MarkIfNew(ctx context.Context, eventID string, now time.Time) (bool, error) {
	ts := now.UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_events (event_id, first_seen_ts, last_seen_ts)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, ts, ts)
	if err != nil {
		return false, fmt.Errorf("bus: mark seen: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE seen_events SET last_seen_ts = ? WHERE event_id = ?
	`, ts, eventID); err != nil {
		return false, fmt.Errorf("bus: touch seen: %w", err)
	}
	return false, nil
}

// Seen reports whether the event ID is already recorded.
func (s *SeenStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_events WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Sweep deletes records first seen before now-ttl and returns the count.
func (s *SeenStore) Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int64, error) {
	cutoff := now.UTC().Add(-ttl).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE first_seen_ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("bus: sweep seen: %w", err)
	}
	return res.RowsAffected()
}
