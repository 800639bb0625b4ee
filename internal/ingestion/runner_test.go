package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/pricesource"
	"stock-trend-lab/internal/storage"
	"stock-trend-lab/internal/storage/memory"
	"stock-trend-lab/internal/storage/storagetest"
)

type runnerFixture struct {
	store      storage.PriceStore
	quarantine storage.QuarantineStore
	source     pricesource.Source
	today      time.Time
	checkpoint int
	workers    int
	pacing     time.Duration
}

func (f runnerFixture) runner() *Runner {
	return NewRunner(RunnerOptions{
		Planner: NewPlanner(PlannerOptions{
			Store:      f.store,
			Quarantine: f.quarantine,
			Config:     PlanConfig{DefaultLookback: domain.MustLookback("30d")},
		}),
		Executor: NewExecutor(ExecutorOptions{Source: f.source, PacingDelay: f.pacing}),
		Committer: CommitterOptions{
			Store:           f.store,
			Quarantine:      f.quarantine,
			CheckpointSize:  f.checkpoint,
			QuarantineAfter: 1,
		},
		Workers: f.workers,
		Today:   func() time.Time { return f.today },
	})
}

func TestRunner_IncrementalUpdate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPriceStore()
	_, err := store.Append(ctx, storagetest.AAPLWeek())
	require.NoError(t, err)

	src := pricesource.NewStub(map[string][]pricesource.Bar{
		"AAPL": {stubBar("2024-01-06", 107)},
	})

	f := runnerFixture{store: store, source: src, today: domain.MustDate("2024-01-07")}
	summary, err := f.runner().Run(ctx, []string{"AAPL"})
	require.NoError(t, err)

	calls := src.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.MustDate("2024-01-06"), calls[0].Request.Start)

	w, ok, err := store.Watermark(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MustDate("2024-01-06"), w)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.TickersPlanned)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.RowsCommitted)
	assert.Equal(t, 1, summary.Checkpoints)
	assert.False(t, summary.Interrupted)

	// A second run on the same day has nothing to do.
	summary, err = f.runner().Run(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TickersPlanned)
	assert.Equal(t, 1, summary.TickersCurrent)
	assert.Len(t, src.Calls(), 1)
}

func TestRunner_FailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	src := pricesource.NewStub(nil)
	src.Generate = true
	src.Errors["DEAD"] = pricesource.ErrNotFound

	q := memory.NewQuarantineStore()
	f := runnerFixture{store: memory.NewPriceStore(), quarantine: q, source: src, today: domain.MustDate("2024-02-01"), checkpoint: 2}

	summary, err := f.runner().Run(ctx, []string{"AAPL", "DEAD", "MSFT"})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.NewlyQuarantined)
	assert.Equal(t, 2, summary.Checkpoints)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, domain.FailureNotFound, summary.Failures[0].Kind)

	wm, err := f.store.Watermarks(ctx)
	require.NoError(t, err)
	assert.Contains(t, wm, "AAPL")
	assert.Contains(t, wm, "MSFT")
	assert.NotContains(t, wm, "DEAD")

	// Quarantined tickers are skipped on the next run.
	summary, err = f.runner().Run(ctx, []string{"AAPL", "DEAD", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Quarantined)
}

func TestRunner_InvalidBarLeavesNoGap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPriceStore()
	src := pricesource.NewStub(map[string][]pricesource.Bar{
		"AAPL": {stubBar("2024-01-02", 10), stubBar("2024-01-03", 0), stubBar("2024-01-04", 11)},
	})
	f := runnerFixture{store: store, source: src, today: domain.MustDate("2024-01-05")}

	summary, err := f.runner().Run(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.RowsCommitted)

	w, ok, err := store.Watermark(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MustDate("2024-01-02"), w)

	// The bad day is requested again and still fails as a parse error.
	summary, err = f.runner().Run(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, domain.FailureParse, summary.Failures[0].Kind)
	calls := src.Calls()
	assert.Equal(t, domain.MustDate("2024-01-03"), calls[len(calls)-1].Request.Start)

	// Once upstream corrects it the history is filled without a hole.
	src.Bars["AAPL"] = []pricesource.Bar{stubBar("2024-01-02", 10), stubBar("2024-01-03", 10.5), stubBar("2024-01-04", 11)}
	summary, err = f.runner().Run(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RowsCommitted)

	recs, err := store.ReadTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL|2024-01-02", "AAPL|2024-01-03", "AAPL|2024-01-04"}, storagetest.Keys(recs))
}

func TestRunner_ZeroFetchedStillReports(t *testing.T) {
	src := pricesource.NewStub(nil)
	for _, tk := range []string{"A", "B"} {
		src.Errors[tk] = errors.New("connection refused")
	}
	f := runnerFixture{store: memory.NewPriceStore(), source: src, today: domain.MustDate("2024-02-01")}

	summary, err := f.runner().Run(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fetched)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.RowsCommitted)
}

// crashingStore fails every Append after the first n succeed.
type crashingStore struct {
	storage.PriceStore
	n int
}

func (s *crashingStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	if s.n <= 0 {
		return 0, storage.Wrap("test", "append", errors.New("crash"))
	}
	s.n--
	return s.PriceStore.Append(ctx, records)
}

func TestRunner_CheckpointCrashConverges(t *testing.T) {
	ctx := context.Background()
	tickers := []string{"AAPL", "AMZN", "GOOG", "META", "MSFT", "NVDA", "TSLA"}
	today := domain.MustDate("2024-02-01")

	newSource := func() *pricesource.Stub {
		s := pricesource.NewStub(nil)
		s.Generate = true
		return s
	}

	// Reference: uninterrupted run.
	want := memory.NewPriceStore()
	_, err := runnerFixture{store: want, source: newSource(), today: today, checkpoint: 3}.runner().Run(ctx, tickers)
	require.NoError(t, err)

	// Crash after the first checkpoint, then rerun against what was committed.
	got := memory.NewPriceStore()
	_, err = runnerFixture{store: &crashingStore{PriceStore: got, n: 1}, source: newSource(), today: today, checkpoint: 3}.runner().Run(ctx, tickers)
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))

	partial, err := got.Watermarks(ctx)
	require.NoError(t, err)
	assert.Len(t, partial, 3, "only the first checkpoint survived")

	rerun := pricesource.NewStub(nil)
	rerun.Generate = true
	_, err = runnerFixture{store: got, source: rerun, today: today, checkpoint: 3}.runner().Run(ctx, tickers)
	require.NoError(t, err)
	assert.Len(t, rerun.Calls(), len(tickers)-3, "committed tickers are current")

	wantRecs, err := want.Read(ctx)
	require.NoError(t, err)
	gotRecs, err := got.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, storagetest.Keys(wantRecs), storagetest.Keys(gotRecs))
	assert.Equal(t, storagetest.Closes(wantRecs), storagetest.Closes(gotRecs))
}

// cancellingSource cancels the run after n calls.
type cancellingSource struct {
	*pricesource.Stub
	n      int32
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (s *cancellingSource) Fetch(ctx context.Context, req pricesource.Request) ([]pricesource.Bar, error) {
	bars, err := s.Stub.Fetch(ctx, req)
	if s.calls.Add(1) == s.n {
		s.cancel()
	}
	return bars, err
}

func TestRunner_CancellationFlushesFetched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := pricesource.NewStub(nil)
	stub.Generate = true
	src := &cancellingSource{Stub: stub, n: 2, cancel: cancel}

	store := memory.NewPriceStore()
	f := runnerFixture{store: store, source: src, today: domain.MustDate("2024-02-01"), checkpoint: 100}

	summary, err := f.runner().Run(ctx, []string{"A", "B", "C", "D", "E"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 5, summary.TickersPlanned)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Checkpoints, "final flush after cancellation")

	wm, err := store.Watermarks(context.Background())
	require.NoError(t, err)
	assert.Len(t, wm, 2)
}

func TestRunner_PacingPastDeadlineInterrupts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	src := pricesource.NewStub(nil)
	src.Generate = true
	store := memory.NewPriceStore()
	f := runnerFixture{store: store, source: src, today: domain.MustDate("2024-02-01"), pacing: time.Hour}

	summary, err := f.runner().Run(ctx, []string{"A", "B", "C"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Checkpoints, "fetched rows are flushed")

	wm, err := store.Watermarks(context.Background())
	require.NoError(t, err)
	assert.Contains(t, wm, "A")
}

// serialStore fails the test if two Appends overlap.
type serialStore struct {
	storage.PriceStore
	t      *testing.T
	active atomic.Int32
}

func (s *serialStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	if s.active.Add(1) != 1 {
		s.t.Error("concurrent Append")
	}
	defer s.active.Add(-1)
	time.Sleep(time.Millisecond)
	return s.PriceStore.Append(ctx, records)
}

func TestRunner_ParallelWorkersSingleWriter(t *testing.T) {
	src := pricesource.NewStub(nil)
	src.Generate = true

	var tickers []string
	for i := 0; i < 20; i++ {
		tickers = append(tickers, fmt.Sprintf("T%02d", i))
	}

	store := &serialStore{PriceStore: memory.NewPriceStore(), t: t}
	f := runnerFixture{store: store, source: src, today: domain.MustDate("2024-02-01"), checkpoint: 3, workers: 4, pacing: 2 * time.Millisecond}

	summary, err := f.runner().Run(context.Background(), tickers)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Fetched)
	assert.Equal(t, 7, summary.Checkpoints)

	wm, err := store.Watermarks(context.Background())
	require.NoError(t, err)
	assert.Len(t, wm, 20)
	assert.Len(t, src.Calls(), 20)
}
