package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// TickerMetaStore implements storage.TickerMetaStore using PostgreSQL.
type TickerMetaStore struct {
	pool *Pool
}

// NewTickerMetaStore creates a new TickerMetaStore.
func NewTickerMetaStore(pool *Pool) *TickerMetaStore {
	return &TickerMetaStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TickerMetaStore = (*TickerMetaStore)(nil)

// Upsert inserts or replaces metadata rows in one transaction.
func (s *TickerMetaStore) Upsert(ctx context.Context, metas []*domain.TickerMeta) (int, error) {
	if len(metas) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, m := range metas {
		if m == nil || m.Ticker == "" {
			return 0, storage.ErrInvalidInput
		}
		b.Queue(`
			INSERT INTO ticker_meta (
				ticker, company_name, exchange, sector, industry,
				market_cap, price, average_volume, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, NOW())
			ON CONFLICT (ticker) DO UPDATE
			SET company_name = EXCLUDED.company_name,
			    exchange = EXCLUDED.exchange,
			    sector = EXCLUDED.sector,
			    industry = EXCLUDED.industry,
			    market_cap = EXCLUDED.market_cap,
			    price = EXCLUDED.price,
			    average_volume = EXCLUDED.average_volume,
			    updated_at = NOW()
		`,
			m.Ticker,
			m.CompanyName,
			m.Exchange,
			m.Sector,
			m.Industry,
			m.MarketCap.String(),
			m.Price.String(),
			m.AverageVolume,
		)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return 0, storage.Wrap(backend, "upsert ticker meta", err)
	}
	return len(metas), nil
}

// GetByTicker retrieves one row. Returns ErrNotFound if not exists.
func (s *TickerMetaStore) GetByTicker(ctx context.Context, ticker string) (*domain.TickerMeta, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticker, company_name, exchange, sector, industry,
		       market_cap::text, price::text, average_volume
		FROM ticker_meta
		WHERE ticker = $1
	`, ticker)

	m, err := scanTickerMeta(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get ticker meta: %w", err)
	}
	return m, nil
}

// All retrieves every row ordered by ticker.
func (s *TickerMetaStore) All(ctx context.Context) ([]*domain.TickerMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, company_name, exchange, sector, industry,
		       market_cap::text, price::text, average_volume
		FROM ticker_meta
		ORDER BY ticker ASC
	`)
	if err != nil {
		return nil, storage.Wrap(backend, "read ticker meta", err)
	}
	defer rows.Close()

	var metas []*domain.TickerMeta
	for rows.Next() {
		m, err := scanTickerMeta(rows)
		if err != nil {
			return nil, storage.Wrap(backend, "read ticker meta", err)
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "read ticker meta", err)
	}
	return metas, nil
}

// scanTickerMeta scans a single row into TickerMeta.
func scanTickerMeta(row pgx.Row) (*domain.TickerMeta, error) {
	var (
		m                domain.TickerMeta
		marketCap, price string
	)

	err := row.Scan(
		&m.Ticker,
		&m.CompanyName,
		&m.Exchange,
		&m.Sector,
		&m.Industry,
		&marketCap,
		&price,
		&m.AverageVolume,
	)
	if err != nil {
		return nil, err
	}

	if m.MarketCap, err = decimal.NewFromString(marketCap); err != nil {
		return nil, fmt.Errorf("%w: market_cap %q", storage.ErrCorrupt, marketCap)
	}
	if m.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("%w: price %q", storage.ErrCorrupt, price)
	}
	return &m, nil
}
