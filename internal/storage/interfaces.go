package storage

import (
	"context"
	"time"

	"stock-trend-lab/internal/domain"
)

// PriceStore provides access to price_history storage.
// Rows are keyed by (ticker, date). The Committer is the only writer.
type PriceStore interface {
	// Append upserts a batch in one transaction. Duplicate (ticker, date) pairs
	// collapse to one row, last write wins. Returns the number of distinct rows written.
	Append(ctx context.Context, records []*domain.PriceRecord) (int, error)

	// Read retrieves every record ordered by (ticker, date) ASC.
	Read(ctx context.Context) ([]*domain.PriceRecord, error)

	// ReadTicker retrieves the records of one ticker ordered by date ASC.
	ReadTicker(ctx context.Context, ticker string) ([]*domain.PriceRecord, error)

	// Watermark returns the latest committed date of a ticker.
	// ok is false if the ticker has never been committed.
	Watermark(ctx context.Context, ticker string) (date time.Time, ok bool, err error)

	// Watermarks returns the latest committed date of every ticker.
	Watermarks(ctx context.Context) (map[string]time.Time, error)
}

// QuarantineEntry describes a quarantined ticker.
type QuarantineEntry struct {
	Ticker   string
	Reason   string
	Failures int
	Since    time.Time
}

// QuarantineStore tracks consecutive fetch failures and the tickers
// quarantined because of them. Stores with a TTL treat expired entries
// as absent.
type QuarantineStore interface {
	// RecordFailure increments the consecutive failure count and returns it.
	RecordFailure(ctx context.Context, ticker, reason string) (int, error)

	// ResetFailures clears the failure count after a successful fetch.
	ResetFailures(ctx context.Context, ticker string) error

	// Quarantine adds the ticker to the quarantine list.
	Quarantine(ctx context.Context, entry QuarantineEntry) error

	// IsQuarantined checks if a ticker is quarantined.
	IsQuarantined(ctx context.Context, ticker string) (bool, error)

	// List returns all quarantined tickers ordered by ticker.
	List(ctx context.Context) ([]QuarantineEntry, error)

	// Release removes a ticker from quarantine. Returns ErrNotFound if absent.
	Release(ctx context.Context, ticker string) error
}

// TickerMetaStore provides access to ticker_meta storage, a database copy of
// the universe file.
type TickerMetaStore interface {
	// Upsert inserts or replaces metadata rows keyed by ticker.
	Upsert(ctx context.Context, metas []*domain.TickerMeta) (int, error)

	// GetByTicker retrieves one row. Returns ErrNotFound if not exists.
	GetByTicker(ctx context.Context, ticker string) (*domain.TickerMeta, error)

	// All retrieves every row ordered by ticker.
	All(ctx context.Context) ([]*domain.TickerMeta, error)
}
