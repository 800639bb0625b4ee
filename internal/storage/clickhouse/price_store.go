package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// PriceStore implements storage.PriceStore using ClickHouse.
// The table is a ReplacingMergeTree ordered by (ticker, date): every append
// writes a higher version and reads use FINAL, which gives last-write-wins.
type PriceStore struct {
	conn *Conn

	mu          sync.Mutex
	lastVersion uint64
	now         func() time.Time
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(conn *Conn) *PriceStore {
	return &PriceStore{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// nextVersion returns a strictly increasing row version.
func (s *PriceStore) nextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := uint64(s.now().UnixNano())
	if v <= s.lastVersion {
		v = s.lastVersion + 1
	}
	s.lastVersion = v
	return v
}

// Append inserts the batch as one block.
func (s *PriceStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	batch, err := storage.PrepareBatch(records)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	b, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_history (
			ticker, date, open, high, low, close, volume, version
		)
	`)
	if err != nil {
		return 0, storage.Wrap(backend, "append", fmt.Errorf("prepare batch: %w", err))
	}

	version := s.nextVersion()
	for _, r := range batch {
		err = b.Append(
			r.Ticker, r.Date,
			r.Open, r.High, r.Low, r.Close,
			uint64(r.Volume), version,
		)
		if err != nil {
			_ = b.Abort()
			return 0, storage.Wrap(backend, "append", fmt.Errorf("append to batch: %w", err))
		}
	}

	if err := b.Send(); err != nil {
		return 0, storage.Wrap(backend, "append", fmt.Errorf("send batch: %w", err))
	}

	return len(batch), nil
}

// Read retrieves every record ordered by (ticker, date) ASC.
func (s *PriceStore) Read(ctx context.Context) ([]*domain.PriceRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT ticker, date, open, high, low, close, volume
		FROM price_history FINAL
		ORDER BY ticker ASC, date ASC
	`)
	if err != nil {
		return nil, storage.Wrap(backend, "read", err)
	}
	defer rows.Close()

	records, err := scanPriceRecords(rows)
	if err != nil {
		return nil, storage.Wrap(backend, "read", err)
	}
	return records, nil
}

// ReadTicker retrieves the records of one ticker ordered by date ASC.
func (s *PriceStore) ReadTicker(ctx context.Context, ticker string) ([]*domain.PriceRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT ticker, date, open, high, low, close, volume
		FROM price_history FINAL
		WHERE ticker = ?
		ORDER BY date ASC
	`, ticker)
	if err != nil {
		return nil, storage.Wrap(backend, "read ticker", err)
	}
	defer rows.Close()

	records, err := scanPriceRecords(rows)
	if err != nil {
		return nil, storage.Wrap(backend, "read ticker", err)
	}
	return records, nil
}

// Watermark returns the latest committed date of a ticker.
func (s *PriceStore) Watermark(ctx context.Context, ticker string) (time.Time, bool, error) {
	var (
		latest time.Time
		count  uint64
	)
	err := s.conn.QueryRow(ctx, `
		SELECT max(date), count() FROM price_history WHERE ticker = ?
	`, ticker).Scan(&latest, &count)
	if err != nil {
		return time.Time{}, false, storage.Wrap(backend, "watermark", err)
	}
	if count == 0 {
		return time.Time{}, false, nil
	}
	return domain.DateOf(latest), true, nil
}

// Watermarks returns the latest committed date of every ticker.
func (s *PriceStore) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT ticker, max(date) FROM price_history GROUP BY ticker
	`)
	if err != nil {
		return nil, storage.Wrap(backend, "watermarks", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			ticker string
			latest time.Time
		)
		if err := rows.Scan(&ticker, &latest); err != nil {
			return nil, storage.Wrap(backend, "watermarks", err)
		}
		out[ticker] = domain.DateOf(latest)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "watermarks", err)
	}
	return out, nil
}

// scanPriceRecords scans multiple rows.
func scanPriceRecords(rs rows) ([]*domain.PriceRecord, error) {
	var records []*domain.PriceRecord

	for rs.Next() {
		var (
			r      domain.PriceRecord
			date   time.Time
			volume uint64
			prices [4]decimal.Decimal
		)

		err := rs.Scan(
			&r.Ticker, &date,
			&prices[0], &prices[1], &prices[2], &prices[3],
			&volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}

		r.Date = domain.DateOf(date)
		r.Open, r.High, r.Low, r.Close = prices[0], prices[1], prices[2], prices[3]
		r.Volume = int64(volume)
		records = append(records, &r)
	}

	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}

	return records, nil
}
