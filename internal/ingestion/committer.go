package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/observability"
	"stock-trend-lab/internal/storage"
)

// DefaultCheckpointSize is the number of processed tickers per flush.
const DefaultCheckpointSize = 100

// CommitStats counts what the committer has seen and written.
type CommitStats struct {
	Processed        int
	Fetched          int
	Empty            int
	Failed           int
	RowsCommitted    int
	Checkpoints      int
	NewlyQuarantined int
	Failures         []domain.FetchFailure
}

// Committer buffers fetch results and flushes them to the store every
// checkpointSize processed tickers. It is the single writer of the store
// and is not safe for concurrent use.
type Committer struct {
	store           storage.PriceStore
	quarantine      storage.QuarantineStore
	checkpointSize  int
	quarantineAfter int
	metrics         *observability.Metrics
	now             func() time.Time
	logger          zerolog.Logger

	pending     []*domain.PriceRecord
	sinceFlush  int
	stats       CommitStats
	quarantined map[string]bool
}

// CommitterOptions contains configuration for creating a Committer.
type CommitterOptions struct {
	Store           storage.PriceStore
	Quarantine      storage.QuarantineStore // optional
	CheckpointSize  int                     // default: 100
	QuarantineAfter int                     // consecutive failures, 0 disables
	Metrics         *observability.Metrics
	Clock           func() time.Time
	Logger          *zerolog.Logger
}

// NewCommitter creates a new committer.
func NewCommitter(opts CommitterOptions) *Committer {
	size := opts.CheckpointSize
	if size <= 0 {
		size = DefaultCheckpointSize
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "committer").Logger()
	}

	return &Committer{
		store:           opts.Store,
		quarantine:      opts.Quarantine,
		checkpointSize:  size,
		quarantineAfter: opts.QuarantineAfter,
		metrics:         opts.Metrics,
		now:             now,
		logger:          logger,
		quarantined:     make(map[string]bool),
	}
}

// Add records one fetch result and flushes at a checkpoint boundary.
// A returned error is a store failure and is fatal to the run.
func (c *Committer) Add(ctx context.Context, res *domain.FetchResult) error {
	c.stats.Processed++
	c.sinceFlush++

	switch res.Status {
	case domain.FetchOK:
		c.stats.Fetched++
		c.pending = append(c.pending, res.Records...)
		c.resetFailures(ctx, res.Ticker)
	case domain.FetchEmpty:
		c.stats.Empty++
		c.resetFailures(ctx, res.Ticker)
	case domain.FetchFailed:
		c.stats.Failed++
		if res.Failure != nil {
			c.stats.Failures = append(c.stats.Failures, *res.Failure)
			c.recordFailure(ctx, res.Failure)
		}
	}

	if c.sinceFlush >= c.checkpointSize {
		return c.Flush(ctx)
	}
	return nil
}

// Flush writes pending records as one sorted, deduplicated batch.
// On error the pending batch is kept so a later flush can retry it.
func (c *Committer) Flush(ctx context.Context) error {
	c.sinceFlush = 0
	if len(c.pending) == 0 {
		return nil
	}

	batch, err := storage.PrepareBatch(c.pending)
	if err != nil {
		return fmt.Errorf("prepare checkpoint: %w", err)
	}

	start := c.now()
	n, err := c.store.Append(ctx, batch)
	if err != nil {
		c.logger.Error().Err(err).Int("rows", len(batch)).Msg("checkpoint failed")
		return fmt.Errorf("checkpoint %d: %w", c.stats.Checkpoints+1, err)
	}
	elapsed := c.now().Sub(start)

	c.stats.Checkpoints++
	c.stats.RowsCommitted += n
	c.pending = c.pending[:0]
	c.metrics.RecordCheckpoint(n, elapsed)

	c.logger.Info().
		Int("checkpoint", c.stats.Checkpoints).
		Int("rows", n).
		Dur("elapsed", elapsed).
		Msg("checkpoint committed")
	return nil
}

// Pending returns the number of buffered records.
func (c *Committer) Pending() int {
	return len(c.pending)
}

// Stats returns a copy of the counters.
func (c *Committer) Stats() CommitStats {
	s := c.stats
	s.Failures = append([]domain.FetchFailure(nil), c.stats.Failures...)
	return s
}

// Quarantined reports whether the ticker was quarantined during this run.
func (c *Committer) Quarantined(ticker string) bool {
	return c.quarantined[ticker]
}

func (c *Committer) resetFailures(ctx context.Context, ticker string) {
	if c.quarantine == nil || c.quarantineAfter <= 0 {
		return
	}
	if err := c.quarantine.ResetFailures(ctx, ticker); err != nil {
		c.logger.Warn().Err(err).Str("ticker", ticker).Msg("reset failures")
	}
}

// recordFailure counts a failure and quarantines the ticker once the
// consecutive failure count reaches quarantineAfter. Quarantine errors are
// logged and do not stop the run.
func (c *Committer) recordFailure(ctx context.Context, f *domain.FetchFailure) {
	if c.quarantine == nil || c.quarantineAfter <= 0 {
		return
	}

	n, err := c.quarantine.RecordFailure(ctx, f.Ticker, f.Reason)
	if err != nil {
		c.logger.Warn().Err(err).Str("ticker", f.Ticker).Msg("record failure")
		return
	}
	if n < c.quarantineAfter || c.quarantined[f.Ticker] {
		return
	}

	entry := storage.QuarantineEntry{
		Ticker:   f.Ticker,
		Reason:   fmt.Sprintf("%s: %s", f.Kind, f.Reason),
		Failures: n,
		Since:    c.now().UTC(),
	}
	if err := c.quarantine.Quarantine(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("ticker", f.Ticker).Msg("quarantine")
		return
	}

	c.quarantined[f.Ticker] = true
	c.stats.NewlyQuarantined++
	c.metrics.RecordQuarantine()
	c.logger.Warn().Str("ticker", f.Ticker).Int("failures", n).Msg("ticker quarantined")
}
