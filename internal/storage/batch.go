package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"stock-trend-lab/internal/domain"
)

// PrepareBatch validates records, collapses duplicate (ticker, date) pairs
// keeping the last occurrence, and sorts by (ticker, date).
// The input slice is not modified.
func PrepareBatch(records []*domain.PriceRecord) ([]*domain.PriceRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	idx := make(map[domain.RecordKey]int, len(records))
	out := make([]*domain.PriceRecord, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		k := r.Key()
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().Less(out[j].Key())
	})
	return out, nil
}

// ErrInvalidOrdering is returned when records are not sorted by
// (ticker, date) or contain a duplicate key.
var ErrInvalidOrdering = errors.New("records are not in (ticker, date) order")

// ValidateOrdering checks that records are strictly ordered by
// (ticker ASC, date ASC), the order Read must return.
func ValidateOrdering(records []*domain.PriceRecord) error {
	for i := 1; i < len(records); i++ {
		if !records[i-1].Key().Less(records[i].Key()) {
			return fmt.Errorf("%w: %s after %s", ErrInvalidOrdering, records[i].Key(), records[i-1].Key())
		}
	}
	return nil
}

// SortRecords orders records by (ticker, date) in place.
func SortRecords(records []*domain.PriceRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key().Less(records[j].Key())
	})
}

// WatermarksOf computes max(date) per ticker.
func WatermarksOf(records []*domain.PriceRecord) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, r := range records {
		if w, ok := out[r.Ticker]; !ok || r.Date.After(w) {
			out[r.Ticker] = r.Date
		}
	}
	return out
}
