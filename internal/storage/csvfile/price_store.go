package csvfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

const backend = "csv"

var errUnsorted = errors.New("file rows are not sorted by (ticker, date)")

// PriceStore implements storage.PriceStore on a single sorted CSV file.
// Appends merge the sorted batch with the file into a temp file that is
// renamed over the original, so readers never see a half-written file.
// A missing file is an empty store.
type PriceStore struct {
	path string

	mu         sync.Mutex
	watermarks map[string]time.Time // nil until first load
	sorted     bool                 // file verified in (ticker, date) order
}

// NewPriceStore creates a store backed by path. Nothing is read until first use.
func NewPriceStore(path string) *PriceStore {
	return &PriceStore{path: path}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// Path returns the file location.
func (s *PriceStore) Path() string {
	return s.path
}

// open returns a streaming reader over the file, or nil if it does not exist.
func (s *PriceStore) open() (*Reader, io.Closer, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	r, err := NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

// each streams every row to fn. fn returning false stops the scan.
func (s *PriceStore) each(ctx context.Context, fn func(*domain.PriceRecord) bool) error {
	r, c, err := s.open()
	if err != nil || r == nil {
		return err
	}
	defer c.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
}

// loadWatermarks builds the watermark index with one streaming pass and
// notes whether the file is sorted. Caller holds mu.
func (s *PriceStore) loadWatermarks(ctx context.Context) error {
	if s.watermarks != nil {
		return nil
	}
	idx := make(map[string]time.Time)
	sorted := true
	var prev *domain.PriceRecord
	err := s.each(ctx, func(r *domain.PriceRecord) bool {
		if prev != nil && !prev.Key().Less(r.Key()) {
			sorted = false
		}
		prev = r
		if w, ok := idx[r.Ticker]; !ok || r.Date.After(w) {
			idx[r.Ticker] = r.Date
		}
		return true
	})
	if err != nil {
		return err
	}
	s.watermarks = idx
	s.sorted = sorted
	return nil
}

// Append merges the batch into the file.
func (s *PriceStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	batch, err := storage.PrepareBatch(records)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadWatermarks(ctx); err != nil {
		return 0, storage.Wrap(backend, "append", err)
	}

	err = s.rewrite(func(w *Writer) error {
		return s.mergeSorted(ctx, batch, w)
	})
	if errors.Is(err, errUnsorted) {
		err = s.rewrite(func(w *Writer) error {
			return s.mergeUnsorted(ctx, batch, w)
		})
	}
	if err != nil {
		return 0, storage.Wrap(backend, "append", err)
	}
	s.sorted = true

	for ticker, date := range storage.WatermarksOf(batch) {
		if w, ok := s.watermarks[ticker]; !ok || date.After(w) {
			s.watermarks[ticker] = date
		}
	}
	return len(batch), nil
}

// rewrite writes a new file through fill and renames it over the old one.
func (s *PriceStore) rewrite(fill func(w *Writer) error) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	buf := bufio.NewWriter(tmp)
	w, err := NewWriter(buf)
	if err == nil {
		err = fill(w)
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = buf.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	return os.Rename(tmpName, s.path)
}

// mergeSorted merge-joins the sorted file with the sorted batch.
// Batch rows replace file rows with the same key.
func (s *PriceStore) mergeSorted(ctx context.Context, batch []*domain.PriceRecord, w *Writer) error {
	var (
		i        int
		prev     *domain.PriceRecord
		unsorted bool
		writeErr error
	)
	err := s.each(ctx, func(r *domain.PriceRecord) bool {
		if prev != nil && !prev.Key().Less(r.Key()) {
			unsorted = true
			return false
		}
		prev = r
		for i < len(batch) && batch[i].Key().Less(r.Key()) {
			if writeErr = w.Write(batch[i]); writeErr != nil {
				return false
			}
			i++
		}
		if i < len(batch) && batch[i].Key() == r.Key() {
			return true // the batch row is written later
		}
		writeErr = w.Write(r)
		return writeErr == nil
	})
	switch {
	case err != nil:
		return err
	case unsorted:
		return errUnsorted
	case writeErr != nil:
		return writeErr
	}

	for ; i < len(batch); i++ {
		if err := w.Write(batch[i]); err != nil {
			return err
		}
	}
	return nil
}

// mergeUnsorted loads the whole file, overlays the batch and sorts.
// Used once to repair files written by other tools.
func (s *PriceStore) mergeUnsorted(ctx context.Context, batch []*domain.PriceRecord, w *Writer) error {
	var all []*domain.PriceRecord
	if err := s.each(ctx, func(r *domain.PriceRecord) bool {
		all = append(all, r)
		return true
	}); err != nil {
		return err
	}

	merged, err := storage.PrepareBatch(append(all, batch...))
	if err != nil {
		return err
	}
	for _, r := range merged {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Read retrieves every record ordered by (ticker, date) ASC.
func (s *PriceStore) Read(ctx context.Context) ([]*domain.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*domain.PriceRecord
	if err := s.each(ctx, func(r *domain.PriceRecord) bool {
		all = append(all, r)
		return true
	}); err != nil {
		return nil, storage.Wrap(backend, "read", err)
	}

	out, err := storage.PrepareBatch(all)
	if err != nil {
		return nil, storage.Wrap(backend, "read", fmt.Errorf("%w: %v", storage.ErrCorrupt, err))
	}
	return out, nil
}

// ReadTicker streams the file and keeps only the ticker's rows.
// The scan stops after the ticker's block when the file is known to be
// sorted; an unsorted file written by another tool is scanned to the end.
// Duplicate dates in such a file collapse to the last row.
func (s *PriceStore) ReadTicker(ctx context.Context, ticker string) ([]*domain.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadWatermarks(ctx); err != nil {
		return nil, storage.Wrap(backend, "read ticker", err)
	}
	if _, ok := s.watermarks[ticker]; !ok {
		return nil, nil
	}

	var (
		out  []*domain.PriceRecord
		seen bool
	)
	if err := s.each(ctx, func(r *domain.PriceRecord) bool {
		if r.Ticker == ticker {
			out = append(out, r)
			seen = true
			return true
		}
		return !seen || !s.sorted
	}); err != nil {
		return nil, storage.Wrap(backend, "read ticker", err)
	}

	if s.sorted {
		return out, nil
	}
	out, err := storage.PrepareBatch(out)
	if err != nil {
		return nil, storage.Wrap(backend, "read ticker", fmt.Errorf("%w: %v", storage.ErrCorrupt, err))
	}
	return out, nil
}

// Watermark returns the latest committed date of a ticker.
func (s *PriceStore) Watermark(ctx context.Context, ticker string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadWatermarks(ctx); err != nil {
		return time.Time{}, false, storage.Wrap(backend, "watermark", err)
	}
	w, ok := s.watermarks[ticker]
	return w, ok, nil
}

// Watermarks returns the latest committed date of every ticker.
func (s *PriceStore) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadWatermarks(ctx); err != nil {
		return nil, storage.Wrap(backend, "watermarks", err)
	}
	out := make(map[string]time.Time, len(s.watermarks))
	for k, v := range s.watermarks {
		out[k] = v
	}
	return out, nil
}
