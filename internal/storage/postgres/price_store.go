package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

const upsertPriceQuery = `
	INSERT INTO price_history (ticker, date, open, high, low, close, volume)
	VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7)
	ON CONFLICT (ticker, date) DO UPDATE
	SET open = EXCLUDED.open,
	    high = EXCLUDED.high,
	    low = EXCLUDED.low,
	    close = EXCLUDED.close,
	    volume = EXCLUDED.volume
`

// Append upserts the batch in one transaction.
func (s *PriceStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	batch, err := storage.PrepareBatch(records)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, r := range batch {
			b.Queue(upsertPriceQuery,
				r.Ticker,
				r.Date,
				r.Open.String(),
				r.High.String(),
				r.Low.String(),
				r.Close.String(),
				r.Volume,
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		if isInvalidInputError(err) {
			return 0, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return 0, storage.Wrap(backend, "append", err)
	}

	return len(batch), nil
}

// Read retrieves every record ordered by (ticker, date) ASC.
func (s *PriceStore) Read(ctx context.Context) ([]*domain.PriceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, date, open::text, high::text, low::text, close::text, volume
		FROM price_history
		ORDER BY ticker COLLATE "C" ASC, date ASC
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
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, date, open::text, high::text, low::text, close::text, volume
		FROM price_history
		WHERE ticker = $1
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
	var latest *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT max(date) FROM price_history WHERE ticker = $1
	`, ticker).Scan(&latest)
	if err != nil {
		return time.Time{}, false, storage.Wrap(backend, "watermark", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return domain.DateOf(*latest), true, nil
}

// Watermarks returns the latest committed date of every ticker.
func (s *PriceStore) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
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

// scanPriceRecords scans rows of (ticker, date, open, high, low, close, volume).
func scanPriceRecords(rows pgx.Rows) ([]*domain.PriceRecord, error) {
	var records []*domain.PriceRecord

	for rows.Next() {
		var (
			r                   domain.PriceRecord
			date                time.Time
			open, high, low, cl string
		)
		if err := rows.Scan(&r.Ticker, &date, &open, &high, &low, &cl, &r.Volume); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		r.Date = domain.DateOf(date)

		var err error
		if r.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("%w: open %q", storage.ErrCorrupt, open)
		}
		if r.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("%w: high %q", storage.ErrCorrupt, high)
		}
		if r.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("%w: low %q", storage.ErrCorrupt, low)
		}
		if r.Close, err = decimal.NewFromString(cl); err != nil {
			return nil, fmt.Errorf("%w: close %q", storage.ErrCorrupt, cl)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}
	return records, nil
}
