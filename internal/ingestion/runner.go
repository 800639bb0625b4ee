package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/observability"
)

// Runner drives one incremental update: plan, fetch, commit.
// Fetches may run on several workers sharing one pacer; every result is
// funneled into a single Committer.
type Runner struct {
	planner   *Planner
	executor  *Executor
	committer CommitterOptions
	workers   int
	metrics   *observability.Metrics
	today     func() time.Time
	now       func() time.Time
	logger    zerolog.Logger
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Planner   *Planner
	Executor  *Executor
	Committer CommitterOptions
	Workers   int // default: 1
	Metrics   *observability.Metrics
	Today     func() time.Time // exchange-local trading date; default: UTC date of Clock
	Clock     func() time.Time
	Logger    *zerolog.Logger
}

// NewRunner creates a new update runner.
func NewRunner(opts RunnerOptions) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	today := opts.Today
	if today == nil {
		today = func() time.Time { return domain.DateOf(now().UTC()) }
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "runner").Logger()
	}

	committer := opts.Committer
	if committer.Metrics == nil {
		committer.Metrics = opts.Metrics
	}
	if committer.Clock == nil {
		committer.Clock = now
	}
	if committer.Logger == nil {
		committer.Logger = opts.Logger
	}

	return &Runner{
		planner:   opts.Planner,
		executor:  opts.Executor,
		committer: committer,
		workers:   workers,
		metrics:   opts.Metrics,
		today:     today,
		now:       now,
		logger:    logger,
	}
}

// Run plans and executes an update for tickers.
//
// A fetch failure never stops the run. A store failure does, and is
// returned together with the summary so far. On cancellation fetching stops,
// the already fetched results are flushed once and the summary is returned
// with Interrupted set and the context error.
func (r *Runner) Run(ctx context.Context, tickers []string) (*domain.RunSummary, error) {
	summary := &domain.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
		Today:     domain.DateOf(r.today()),
	}
	log := r.logger.With().Str("run_id", summary.RunID).Logger()

	plan, err := r.planner.Plan(ctx, tickers, summary.Today)
	if err != nil {
		summary.FinishedAt = r.now()
		return summary, err
	}
	r.metrics.RecordPlan(len(plan.Entries), len(plan.Current), len(plan.Inactive), len(plan.Quarantined))

	summary.TickersTotal = plan.Total
	summary.TickersPlanned = len(plan.Entries)
	summary.TickersCurrent = len(plan.Current)
	summary.TickersInactive = len(plan.Inactive)
	summary.Quarantined = len(plan.Quarantined)

	log.Info().Int("planned", summary.TickersPlanned).Int("workers", r.workers).Msg("update started")

	committer := NewCommitter(r.committer)
	runErr := r.execute(ctx, plan, committer, log)

	stats := committer.Stats()
	summary.Fetched = stats.Fetched
	summary.Empty = stats.Empty
	summary.Failed = stats.Failed
	summary.NewlyQuarantined = stats.NewlyQuarantined
	summary.RowsCommitted = stats.RowsCommitted
	summary.Checkpoints = stats.Checkpoints
	summary.Failures = stats.Failures
	summary.Interrupted = ctx.Err() != nil || isInterruption(runErr)
	summary.FinishedAt = r.now()

	log.Info().
		Int("fetched", summary.Fetched).
		Int("empty", summary.Empty).
		Int("failed", summary.Failed).
		Int("rows", summary.RowsCommitted).
		Int("checkpoints", summary.Checkpoints).
		Bool("interrupted", summary.Interrupted).
		Dur("duration", summary.Duration()).
		Msg("update finished")

	return summary, runErr
}

// execute fetches plan entries and commits the results. It returns the first
// store error, or the context error when interrupted.
func (r *Runner) execute(ctx context.Context, plan *Plan, committer *Committer, log zerolog.Logger) error {
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	jobs := make(chan PlanEntry)
	results := make(chan *domain.FetchResult, r.workers)

	go func() {
		defer close(jobs)
		for _, entry := range plan.Entries {
			select {
			case jobs <- entry:
			case <-fetchCtx.Done():
				return
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		fetchErr error
	)
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				res, err := r.executor.Fetch(fetchCtx, entry.Ticker, entry.Start, plan.Today)
				if err != nil {
					errOnce.Do(func() { fetchErr = err })
					cancelFetch()
					return
				}
				if fetchCtx.Err() != nil && interruptedBy(res) {
					return
				}
				results <- res
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single writer: only this goroutine touches the committer.
	// Commits are not interrupted by cancellation.
	commitCtx := context.WithoutCancel(ctx)
	var storeErr error
	for res := range results {
		if storeErr != nil {
			continue
		}
		if err := committer.Add(commitCtx, res); err != nil {
			storeErr = err
			cancelFetch()
		}
	}

	if storeErr != nil {
		return storeErr
	}

	// Final flush also runs after cancellation so fetched data is kept.
	if err := committer.Flush(commitCtx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("update interrupted")
		return err
	}
	if isInterruption(fetchErr) {
		log.Warn().Err(fetchErr).Msg("update interrupted")
	}
	return fetchErr
}

func isInterruption(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// interruptedBy reports whether a failed result was caused by cancellation.
func interruptedBy(res *domain.FetchResult) bool {
	if res.Status != domain.FetchFailed || res.Failure == nil {
		return false
	}
	return isInterruption(res.Failure.Err)
}
