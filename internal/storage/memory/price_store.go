package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// PriceStore is an in-memory implementation of storage.PriceStore.
type PriceStore struct {
	mu   sync.RWMutex
	data map[string]map[time.Time]*domain.PriceRecord // ticker -> date -> record
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		data: make(map[string]map[time.Time]*domain.PriceRecord),
	}
}

// Append upserts a batch. Validation happens before any row is written.
func (s *PriceStore) Append(_ context.Context, records []*domain.PriceRecord) (int, error) {
	batch, err := storage.PrepareBatch(records)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range batch {
		rows, ok := s.data[r.Ticker]
		if !ok {
			rows = make(map[time.Time]*domain.PriceRecord)
			s.data[r.Ticker] = rows
		}
		recordCopy := *r
		rows[r.Date] = &recordCopy
	}

	return len(batch), nil
}

// Read retrieves every record ordered by (ticker, date) ASC.
func (s *PriceStore) Read(_ context.Context) ([]*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceRecord
	for _, rows := range s.data {
		for _, r := range rows {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	storage.SortRecords(result)
	return result, nil
}

// ReadTicker retrieves the records of one ticker ordered by date ASC.
func (s *PriceStore) ReadTicker(_ context.Context, ticker string) ([]*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[ticker]
	result := make([]*domain.PriceRecord, 0, len(rows))
	for _, r := range rows {
		recordCopy := *r
		result = append(result, &recordCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// Watermark returns the latest date of a ticker.
func (s *PriceStore) Watermark(_ context.Context, ticker string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := maxDate(s.data[ticker])
	return w, ok, nil
}

// Watermarks returns the latest date of every ticker.
func (s *PriceStore) Watermarks(_ context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time, len(s.data))
	for ticker, rows := range s.data {
		if w, ok := maxDate(rows); ok {
			out[ticker] = w
		}
	}
	return out, nil
}

// Len returns the number of stored rows.
func (s *PriceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rows := range s.data {
		n += len(rows)
	}
	return n
}

func maxDate(rows map[time.Time]*domain.PriceRecord) (time.Time, bool) {
	var w time.Time
	found := false
	for d := range rows {
		if !found || d.After(w) {
			w = d
			found = true
		}
	}
	return w, found
}

var _ storage.PriceStore = (*PriceStore)(nil)
