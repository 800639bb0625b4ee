// Package storagetest holds conformance tests shared by every PriceStore backend.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// Record builds a PriceRecord with OHLC derived from close.
func Record(ticker, date string, close float64) *domain.PriceRecord {
	c := decimal.NewFromFloat(close)
	return &domain.PriceRecord{
		Ticker: ticker,
		Date:   domain.MustDate(date),
		Open:   c,
		High:   c.Add(decimal.NewFromInt(1)),
		Low:    c.Sub(decimal.NewFromFloat(0.5)),
		Close:  c,
		Volume: 1_000_000,
	}
}

// AAPLWeek is AAPL for 2024-01-01..2024-01-05.
func AAPLWeek() []*domain.PriceRecord {
	return []*domain.PriceRecord{
		Record("AAPL", "2024-01-01", 100),
		Record("AAPL", "2024-01-02", 101),
		Record("AAPL", "2024-01-03", 99),
		Record("AAPL", "2024-01-04", 102),
		Record("AAPL", "2024-01-05", 105),
	}
}

// Closes extracts Close values as strings for comparisons.
func Closes(records []*domain.PriceRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Close.String()
	}
	return out
}

// Keys extracts "TICKER|DATE" keys.
func Keys(records []*domain.PriceRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Key().String()
	}
	return out
}

// RunPriceStoreTests runs the PriceStore contract against fresh stores from newStore.
func RunPriceStoreTests(t *testing.T, newStore func(t *testing.T) storage.PriceStore) {
	t.Run("AppendAndRead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.Append(ctx, AAPLWeek())
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		got, err := s.Read(ctx)
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.Equal(t, []string{"100", "101", "99", "102", "105"}, Closes(got))
		assert.Equal(t, int64(1_000_000), got[0].Volume)
		assert.True(t, got[0].Date.Equal(domain.MustDate("2024-01-01")))
	})

	t.Run("IdempotentAppend", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Append(ctx, AAPLWeek())
		require.NoError(t, err)
		once, err := s.Read(ctx)
		require.NoError(t, err)

		_, err = s.Append(ctx, AAPLWeek())
		require.NoError(t, err)
		twice, err := s.Read(ctx)
		require.NoError(t, err)

		assert.Equal(t, Keys(once), Keys(twice))
		assert.Equal(t, Closes(once), Closes(twice))
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Append(ctx, []*domain.PriceRecord{Record("MSFT", "2024-01-02", 370)})
		require.NoError(t, err)
		n, err := s.Append(ctx, []*domain.PriceRecord{
			Record("MSFT", "2024-01-02", 371),
			Record("MSFT", "2024-01-02", 372),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.ReadTicker(ctx, "MSFT")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "372", got[0].Close.String())
	})

	t.Run("SortedAcrossTickers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Append(ctx, []*domain.PriceRecord{
			Record("MSFT", "2024-01-03", 3),
			Record("AAPL", "2024-01-02", 2),
			Record("MSFT", "2024-01-02", 1),
		})
		require.NoError(t, err)
		_, err = s.Append(ctx, []*domain.PriceRecord{Record("AAPL", "2024-01-01", 4)})
		require.NoError(t, err)

		got, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"AAPL|2024-01-01", "AAPL|2024-01-02", "MSFT|2024-01-02", "MSFT|2024-01-03",
		}, Keys(got))
	})

	t.Run("ByteOrderedTickers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Append(ctx, []*domain.PriceRecord{
			Record("BRKA", "2024-01-02", 1),
			Record("BRK.B", "2024-01-02", 2),
			Record("BF-B", "2024-01-02", 3),
			Record("BF", "2024-01-02", 4),
		})
		require.NoError(t, err)

		got, err := s.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, storage.ValidateOrdering(got))
		assert.Equal(t, []string{
			"BF|2024-01-02", "BF-B|2024-01-02", "BRK.B|2024-01-02", "BRKA|2024-01-02",
		}, Keys(got))
	})

	t.Run("ReadTicker", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Append(ctx, append(AAPLWeek(), Record("AAP", "2024-01-02", 60), Record("AAPLX", "2024-01-02", 7)))
		require.NoError(t, err)

		got, err := s.ReadTicker(ctx, "AAPL")
		require.NoError(t, err)
		assert.Len(t, got, 5)
		for _, r := range got {
			assert.Equal(t, "AAPL", r.Ticker)
		}

		none, err := s.ReadTicker(ctx, "ZZZZ")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Watermark", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, ok, err := s.Watermark(ctx, "AAPL")
		require.NoError(t, err)
		assert.False(t, ok, "never-fetched ticker has no watermark")

		_, err = s.Append(ctx, AAPLWeek())
		require.NoError(t, err)
		_, err = s.Append(ctx, []*domain.PriceRecord{Record("MSFT", "2024-01-03", 370)})
		require.NoError(t, err)

		w, ok, err := s.Watermark(ctx, "AAPL")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2024-01-05", domain.FormatDate(w))

		all, err := s.Watermarks(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "2024-01-05", domain.FormatDate(all["AAPL"]))
		assert.Equal(t, "2024-01-03", domain.FormatDate(all["MSFT"]))
	})

	t.Run("InvalidBatchWritesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		bad := Record("AAPL", "2024-01-02", 0)
		_, err := s.Append(ctx, []*domain.PriceRecord{Record("AAPL", "2024-01-01", 10), bad})
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrInvalidInput), "got %v", err)

		got, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("EmptyAppend", func(t *testing.T) {
		s := newStore(t)
		n, err := s.Append(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}
