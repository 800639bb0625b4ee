package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
	"stock-trend-lab/internal/storage/memory"
	"stock-trend-lab/internal/storage/storagetest"
)

// orderValidatingStore wraps a PriceStore and rejects unsorted batches.
type orderValidatingStore struct {
	storage.PriceStore
	appends int
}

func (s *orderValidatingStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	if err := storage.ValidateOrdering(records); err != nil {
		return 0, err
	}
	s.appends++
	return s.PriceStore.Append(ctx, records)
}

func okResult(ticker string, records ...*domain.PriceRecord) *domain.FetchResult {
	return &domain.FetchResult{Ticker: ticker, Status: domain.FetchOK, Records: records}
}

func failedResult(ticker string) *domain.FetchResult {
	return &domain.FetchResult{
		Ticker:  ticker,
		Status:  domain.FetchFailed,
		Failure: &domain.FetchFailure{Ticker: ticker, Kind: domain.FailureTransient, Reason: "timeout"},
	}
}

func TestCommitter_CheckpointBoundaries(t *testing.T) {
	ctx := context.Background()
	store := &orderValidatingStore{PriceStore: memory.NewPriceStore()}
	c := NewCommitter(CommitterOptions{Store: store, CheckpointSize: 2})

	// Unsorted across tickers; the committer must sort before writing.
	require.NoError(t, c.Add(ctx, okResult("MSFT", storagetest.Record("MSFT", "2024-01-03", 370), storagetest.Record("MSFT", "2024-01-02", 369))))
	assert.Equal(t, 2, c.Pending())
	assert.Equal(t, 0, store.appends)

	require.NoError(t, c.Add(ctx, okResult("AAPL", storagetest.Record("AAPL", "2024-01-02", 100))))
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 1, store.appends)

	// Empty and failed results count toward the checkpoint too.
	require.NoError(t, c.Add(ctx, &domain.FetchResult{Ticker: "IPO", Status: domain.FetchEmpty}))
	require.NoError(t, c.Add(ctx, okResult("NVDA", storagetest.Record("NVDA", "2024-01-02", 480))))
	assert.Equal(t, 2, store.appends)

	require.NoError(t, c.Add(ctx, failedResult("DEAD")))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 2, store.appends, "nothing pending, no write")

	stats := c.Stats()
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 1, stats.Empty)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 4, stats.RowsCommitted)
	assert.Equal(t, 2, stats.Checkpoints)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "DEAD", stats.Failures[0].Ticker)
}

func TestCommitter_DedupWithinCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPriceStore()
	c := NewCommitter(CommitterOptions{Store: store, CheckpointSize: 10})

	require.NoError(t, c.Add(ctx, okResult("AAPL", storagetest.Record("AAPL", "2024-01-02", 100))))
	require.NoError(t, c.Add(ctx, okResult("AAPL", storagetest.Record("AAPL", "2024-01-02", 101))))
	require.NoError(t, c.Flush(ctx))

	recs, err := store.ReadTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, storagetest.Closes(recs))
	assert.Equal(t, 1, c.Stats().RowsCommitted)
}

type failingStore struct {
	storage.PriceStore
	err error
}

func (s *failingStore) Append(context.Context, []*domain.PriceRecord) (int, error) {
	return 0, s.err
}

func TestCommitter_StoreErrorKeepsPending(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{PriceStore: memory.NewPriceStore(), err: storage.Wrap("test", "append", errors.New("disk full"))}
	c := NewCommitter(CommitterOptions{Store: store, CheckpointSize: 1})

	err := c.Add(ctx, okResult("AAPL", storagetest.Record("AAPL", "2024-01-02", 100)))
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, 0, c.Stats().Checkpoints)
}

func TestCommitter_QuarantineAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQuarantineStore()
	c := NewCommitter(CommitterOptions{Store: memory.NewPriceStore(), Quarantine: q, QuarantineAfter: 2})

	require.NoError(t, c.Add(ctx, failedResult("DEAD")))
	ok, err := q.IsQuarantined(ctx, "DEAD")
	require.NoError(t, err)
	assert.False(t, ok)

	// A success resets the streak.
	require.NoError(t, c.Add(ctx, okResult("DEAD", storagetest.Record("DEAD", "2024-01-02", 5))))
	require.NoError(t, c.Add(ctx, failedResult("DEAD")))
	ok, _ = q.IsQuarantined(ctx, "DEAD")
	assert.False(t, ok)

	require.NoError(t, c.Add(ctx, failedResult("DEAD")))
	ok, _ = q.IsQuarantined(ctx, "DEAD")
	assert.True(t, ok)
	assert.True(t, c.Quarantined("DEAD"))
	assert.Equal(t, 1, c.Stats().NewlyQuarantined)

	entries, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Failures)
	assert.Contains(t, entries[0].Reason, "transient")
}

func TestCommitter_QuarantineDisabled(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQuarantineStore()
	c := NewCommitter(CommitterOptions{Store: memory.NewPriceStore(), Quarantine: q})

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Add(ctx, failedResult("DEAD")))
	}
	entries, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
