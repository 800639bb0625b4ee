package observability

import (
	"context"
	"time"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// InstrumentedPriceStore records timing and errors of a PriceStore.
type InstrumentedPriceStore struct {
	storage.PriceStore
	backend string
	metrics *Metrics
}

// InstrumentPriceStore wraps store. A nil metrics returns store unchanged.
func InstrumentPriceStore(store storage.PriceStore, backend string, m *Metrics) storage.PriceStore {
	if m == nil {
		return store
	}
	return &InstrumentedPriceStore{PriceStore: store, backend: backend, metrics: m}
}

func (s *InstrumentedPriceStore) observe(op string, start time.Time, err error) {
	s.metrics.RecordStoreOp(s.backend, op, time.Since(start), err)
}

func (s *InstrumentedPriceStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	start := time.Now()
	n, err := s.PriceStore.Append(ctx, records)
	s.observe("append", start, err)
	return n, err
}

func (s *InstrumentedPriceStore) Read(ctx context.Context) ([]*domain.PriceRecord, error) {
	start := time.Now()
	recs, err := s.PriceStore.Read(ctx)
	s.observe("read", start, err)
	return recs, err
}

func (s *InstrumentedPriceStore) ReadTicker(ctx context.Context, ticker string) ([]*domain.PriceRecord, error) {
	start := time.Now()
	recs, err := s.PriceStore.ReadTicker(ctx, ticker)
	s.observe("read_ticker", start, err)
	return recs, err
}

func (s *InstrumentedPriceStore) Watermark(ctx context.Context, ticker string) (time.Time, bool, error) {
	start := time.Now()
	w, ok, err := s.PriceStore.Watermark(ctx, ticker)
	s.observe("watermark", start, err)
	return w, ok, err
}

func (s *InstrumentedPriceStore) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	start := time.Now()
	wm, err := s.PriceStore.Watermarks(ctx)
	s.observe("watermarks", start, err)
	return wm, err
}
