package postgres

import (
	"context"
	"time"

	"stock-trend-lab/internal/storage"
)

// QuarantineStore is a PostgreSQL implementation of storage.QuarantineStore.
// Uses two tables:
//   - fetch_failures: consecutive failure count per ticker
//   - quarantined_tickers: tickers excluded from planning
//
// With a TTL, rows older than the TTL are ignored and overwritten.
type QuarantineStore struct {
	pool *Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewQuarantineStore creates a new PostgreSQL quarantine store.
// ttl 0 means entries never expire.
func NewQuarantineStore(pool *Pool, ttl time.Duration) *QuarantineStore {
	return &QuarantineStore{pool: pool, ttl: ttl, now: time.Now}
}

// cutoff returns the oldest live timestamp, or the zero time without a TTL.
func (s *QuarantineStore) cutoff() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(-s.ttl)
}

// Compile-time interface check.
var _ storage.QuarantineStore = (*QuarantineStore)(nil)

// RecordFailure increments the consecutive failure count and returns it.
func (s *QuarantineStore) RecordFailure(ctx context.Context, ticker, reason string) (int, error) {
	if ticker == "" {
		return 0, storage.ErrInvalidInput
	}

	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO fetch_failures (ticker, failures, last_reason, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (ticker) DO UPDATE
		SET failures = CASE
		        WHEN fetch_failures.updated_at <= $4 THEN 1
		        ELSE fetch_failures.failures + 1
		    END,
		    last_reason = EXCLUDED.last_reason,
		    updated_at = EXCLUDED.updated_at
		RETURNING failures
	`, ticker, reason, s.now().UTC(), s.cutoff()).Scan(&count)
	if err != nil {
		return 0, storage.Wrap(backend, "record failure", err)
	}
	return count, nil
}

// ResetFailures clears the failure count after a successful fetch.
func (s *QuarantineStore) ResetFailures(ctx context.Context, ticker string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM fetch_failures WHERE ticker = $1`, ticker)
	return storage.Wrap(backend, "reset failures", err)
}

// Quarantine adds the ticker to the quarantine list.
func (s *QuarantineStore) Quarantine(ctx context.Context, entry storage.QuarantineEntry) error {
	if entry.Ticker == "" {
		return storage.ErrInvalidInput
	}
	since := entry.Since
	if since.IsZero() {
		since = s.now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO quarantined_tickers (ticker, reason, failures, since)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ticker) DO UPDATE
		SET reason = EXCLUDED.reason,
		    failures = EXCLUDED.failures,
		    since = EXCLUDED.since
	`, entry.Ticker, entry.Reason, entry.Failures, since)
	return storage.Wrap(backend, "quarantine", err)
}

// IsQuarantined checks if a ticker is quarantined.
func (s *QuarantineStore) IsQuarantined(ctx context.Context, ticker string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM quarantined_tickers WHERE ticker = $1 AND since > $2)
	`, ticker, s.cutoff()).Scan(&exists)
	if err != nil {
		return false, storage.Wrap(backend, "is quarantined", err)
	}
	return exists, nil
}

// List returns all quarantined tickers ordered by ticker.
func (s *QuarantineStore) List(ctx context.Context) ([]storage.QuarantineEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, reason, failures, since
		FROM quarantined_tickers
		WHERE since > $1
		ORDER BY ticker ASC
	`, s.cutoff())
	if err != nil {
		return nil, storage.Wrap(backend, "list quarantine", err)
	}
	defer rows.Close()

	var entries []storage.QuarantineEntry
	for rows.Next() {
		var e storage.QuarantineEntry
		if err := rows.Scan(&e.Ticker, &e.Reason, &e.Failures, &e.Since); err != nil {
			return nil, storage.Wrap(backend, "list quarantine", err)
		}
		entries = append(entries, e)
	}
	return entries, storage.Wrap(backend, "list quarantine", rows.Err())
}

// Release removes a ticker from quarantine.
func (s *QuarantineStore) Release(ctx context.Context, ticker string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quarantined_tickers WHERE ticker = $1 AND since > $2`, ticker, s.cutoff())
	if err != nil {
		return storage.Wrap(backend, "release", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM fetch_failures WHERE ticker = $1`, ticker); err != nil {
		return storage.Wrap(backend, "release", err)
	}
	return nil
}
