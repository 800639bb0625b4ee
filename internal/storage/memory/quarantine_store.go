package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stock-trend-lab/internal/storage"
)

type failureCount struct {
	n    int
	last time.Time
}

// QuarantineStore is an in-memory implementation of storage.QuarantineStore.
// State lives as long as the store; the pipeline creates one per update run
// so quarantine stays run-scoped. With a TTL, entries and failure counts
// expire like their Redis counterparts.
type QuarantineStore struct {
	mu          sync.RWMutex
	failures    map[string]failureCount
	quarantined map[string]storage.QuarantineEntry
	ttl         time.Duration
	now         func() time.Time
}

// NewQuarantineStore creates a new in-memory quarantine store without expiry.
func NewQuarantineStore() *QuarantineStore {
	return &QuarantineStore{
		failures:    make(map[string]failureCount),
		quarantined: make(map[string]storage.QuarantineEntry),
		now:         time.Now,
	}
}

// WithTTL makes entries and failure counts expire ttl after they were
// written. A nil clock means time.Now.
func (s *QuarantineStore) WithTTL(ttl time.Duration, clock func() time.Time) *QuarantineStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ttl = ttl
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *QuarantineStore) expired(at time.Time) bool {
	return s.ttl > 0 && !s.now().Before(at.Add(s.ttl))
}

// RecordFailure increments the consecutive failure count and returns it.
func (s *QuarantineStore) RecordFailure(_ context.Context, ticker, _ string) (int, error) {
	if ticker == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fc := s.failures[ticker]
	if s.expired(fc.last) {
		fc.n = 0
	}
	fc.n++
	fc.last = s.now()
	s.failures[ticker] = fc
	return fc.n, nil
}

// ResetFailures clears the failure count of a ticker.
func (s *QuarantineStore) ResetFailures(_ context.Context, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failures, ticker)
	return nil
}

// Quarantine adds the ticker to the quarantine list. A zero Since is set
// to the store clock.
func (s *QuarantineStore) Quarantine(_ context.Context, entry storage.QuarantineEntry) error {
	if entry.Ticker == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Since.IsZero() {
		entry.Since = s.now()
	}
	s.quarantined[entry.Ticker] = entry
	return nil
}

// lookup returns the live entry of ticker and drops it once expired.
// Callers hold the write lock.
func (s *QuarantineStore) lookup(ticker string) (storage.QuarantineEntry, bool) {
	e, ok := s.quarantined[ticker]
	if ok && s.expired(e.Since) {
		delete(s.quarantined, ticker)
		return storage.QuarantineEntry{}, false
	}
	return e, ok
}

// IsQuarantined checks if a ticker is quarantined.
func (s *QuarantineStore) IsQuarantined(_ context.Context, ticker string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookup(ticker)
	return ok, nil
}

// List returns all live quarantined tickers ordered by ticker.
func (s *QuarantineStore) List(_ context.Context) ([]storage.QuarantineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]storage.QuarantineEntry, 0, len(s.quarantined))
	for ticker := range s.quarantined {
		if e, ok := s.lookup(ticker); ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Ticker < entries[j].Ticker
	})
	return entries, nil
}

// Release removes a ticker from quarantine.
func (s *QuarantineStore) Release(_ context.Context, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(ticker); !ok {
		return storage.ErrNotFound
	}
	delete(s.quarantined, ticker)
	delete(s.failures, ticker)
	return nil
}

var _ storage.QuarantineStore = (*QuarantineStore)(nil)
