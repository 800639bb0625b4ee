// Package pipeline wires planning, fetching, committing, aggregation and
// reporting into update and aggregate runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/ingestion"
	"stock-trend-lab/internal/metrics"
	"stock-trend-lab/internal/normalization"
	"stock-trend-lab/internal/observability"
	"stock-trend-lab/internal/pricesource"
	"stock-trend-lab/internal/publish"
	"stock-trend-lab/internal/reporting"
	"stock-trend-lab/internal/storage"
	"stock-trend-lab/internal/storage/memory"
	"stock-trend-lab/internal/universe"
)

// Phase names used for metrics and logs.
const (
	PhaseUpdate    = "update"
	PhaseAggregate = "aggregate"
)

// FetchSettings holds the update run settings.
type FetchSettings struct {
	Plan            ingestion.PlanConfig
	PacingDelay     time.Duration
	CheckpointSize  int
	Workers         int
	QuarantineAfter int
	QuarantineTTL   time.Duration // run-scoped store only
}

// Options contains configuration for creating a Pipeline.
type Options struct {
	Store      storage.PriceStore
	Quarantine storage.QuarantineStore // persisted across runs; nil means run-scoped
	MetaStore  storage.TickerMetaStore // optional, receives the loaded universe
	Source     pricesource.Source
	Publisher  publish.SlopePublisher // optional
	Reports    *reporting.Generator   // optional, nil skips file output
	Engine     *metrics.Engine
	Fetch      FetchSettings
	Location   *time.Location // exchange timezone, default UTC

	UniverseFile  string
	UniverseRules universe.Rules

	Metrics *observability.Metrics
	Clock   func() time.Time
	Logger  *zerolog.Logger
}

// Pipeline runs update and aggregation passes.
type Pipeline struct {
	opts   Options
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = publish.Nop{}
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "pipeline").Logger()
	}
	return &Pipeline{opts: opts, loc: loc, now: now, logger: logger}
}

// Today returns the current trading date in the exchange timezone.
func (p *Pipeline) Today() time.Time {
	return domain.DateIn(p.now(), p.loc)
}

// LoadUniverse reads the universe and, when a metadata store is configured
// and the rows came from the universe file, upserts them into the store.
func (p *Pipeline) LoadUniverse(ctx context.Context) (*universe.Universe, error) {
	u, fromFile, err := p.readUniverse(ctx)
	if err != nil {
		return nil, err
	}

	if fromFile && p.opts.MetaStore != nil && u.Len() > 0 {
		n, err := p.opts.MetaStore.Upsert(ctx, u.Metas())
		if err != nil {
			return nil, fmt.Errorf("sync ticker metadata: %w", err)
		}
		p.logger.Debug().Int("rows", n).Msg("ticker metadata synced")
	}
	return u, nil
}

// Universe reads the universe without syncing it. When the universe file
// does not exist and a metadata store is configured, the last synced rows
// are used.
func (p *Pipeline) Universe(ctx context.Context) (*universe.Universe, error) {
	u, _, err := p.readUniverse(ctx)
	return u, err
}

func (p *Pipeline) readUniverse(ctx context.Context) (*universe.Universe, bool, error) {
	u, err := universe.LoadFile(p.opts.UniverseFile, p.opts.UniverseRules)
	switch {
	case err == nil:
		p.logger.Info().
			Str("file", p.opts.UniverseFile).
			Int("tickers", u.Len()).
			Int("excluded", len(u.Issues)).
			Msg("universe loaded")
		return u, true, nil
	case errors.Is(err, fs.ErrNotExist) && p.opts.MetaStore != nil:
		metas, err := p.opts.MetaStore.All(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("read ticker metadata: %w", err)
		}
		p.logger.Warn().
			Str("file", p.opts.UniverseFile).
			Int("tickers", len(metas)).
			Msg("universe file missing, using stored metadata")
		return universe.New(metas), false, nil
	default:
		return nil, false, err
	}
}

// Meta returns the metadata of one ticker from the metadata store, or from
// the universe file when no store is configured. Returns storage.ErrNotFound
// for an unknown ticker.
func (p *Pipeline) Meta(ctx context.Context, ticker string) (*domain.TickerMeta, error) {
	if p.opts.MetaStore != nil {
		return p.opts.MetaStore.GetByTicker(ctx, ticker)
	}
	u, err := universe.LoadFile(p.opts.UniverseFile, p.opts.UniverseRules)
	if err != nil {
		return nil, err
	}
	m, ok := u.Lookup(ticker)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m, nil
}

func (p *Pipeline) planner(quarantine storage.QuarantineStore) *ingestion.Planner {
	return ingestion.NewPlanner(ingestion.PlannerOptions{
		Store:      p.opts.Store,
		Quarantine: quarantine,
		Config:     p.opts.Fetch.Plan,
		Logger:     p.opts.Logger,
	})
}

// Plan computes the fetch plan for tickers as of today without fetching.
func (p *Pipeline) Plan(ctx context.Context, tickers []string) (*ingestion.Plan, error) {
	return p.planner(p.opts.Quarantine).Plan(ctx, tickers, p.Today())
}

// Update fetches every planned ticker and commits the results.
// The summary is returned even when err is non-nil.
func (p *Pipeline) Update(ctx context.Context, tickers []string) (*domain.RunSummary, error) {
	start := time.Now()

	quarantine := p.opts.Quarantine
	if quarantine == nil {
		quarantine = memory.NewQuarantineStore().WithTTL(p.opts.Fetch.QuarantineTTL, p.now)
	}

	executor := ingestion.NewExecutor(ingestion.ExecutorOptions{
		Source:      p.opts.Source,
		Normalizer:  normalization.New(p.loc),
		PacingDelay: p.opts.Fetch.PacingDelay,
		Metrics:     p.opts.Metrics,
		Clock:       p.now,
		Logger:      p.opts.Logger,
	})

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Planner:  p.planner(quarantine),
		Executor: executor,
		Committer: ingestion.CommitterOptions{
			Store:           p.opts.Store,
			Quarantine:      quarantine,
			CheckpointSize:  p.opts.Fetch.CheckpointSize,
			QuarantineAfter: p.opts.Fetch.QuarantineAfter,
		},
		Workers: p.opts.Fetch.Workers,
		Metrics: p.opts.Metrics,
		Today:   p.Today,
		Clock:   p.now,
		Logger:  p.opts.Logger,
	})

	summary, err := runner.Run(ctx, tickers)
	p.opts.Metrics.RecordPipelineRun(PhaseUpdate, time.Since(start), err)
	return summary, err
}

// AggregateOutput is the result of an aggregation pass.
type AggregateOutput struct {
	Result *metrics.Result
	Files  []string
}

// Aggregate computes slopes as of asOf over the whole store, writes the
// derived files and publishes the slopes. A publish failure is logged and
// does not fail the pass.
func (p *Pipeline) Aggregate(ctx context.Context, metas map[string]*domain.TickerMeta, asOf time.Time) (*AggregateOutput, error) {
	start := time.Now()
	out, err := p.aggregate(ctx, metas, asOf)
	p.opts.Metrics.RecordPipelineRun(PhaseAggregate, time.Since(start), err)
	return out, err
}

func (p *Pipeline) aggregate(ctx context.Context, metas map[string]*domain.TickerMeta, asOf time.Time) (*AggregateOutput, error) {
	res, err := metrics.NewAggregator(p.opts.Store, p.opts.Engine).Aggregate(ctx, metas, asOf)
	if err != nil {
		return nil, err
	}
	out := &AggregateOutput{Result: res}

	kinds := p.opts.Engine.Config().Kinds
	if p.opts.Reports != nil {
		files, err := p.opts.Reports.WriteAggregate(res, kinds)
		out.Files = files
		if err != nil {
			return out, err
		}
	}

	if err := p.opts.Publisher.PublishSlopes(ctx, res.AsOf, res.AllSlopes(kinds)); err != nil {
		p.logger.Warn().Err(err).Msg("slope publication failed")
	}
	return out, nil
}

// RunOutput is the result of a full run.
type RunOutput struct {
	Summary   *domain.RunSummary
	Aggregate *AggregateOutput
	Report    string // run report path, empty without a generator
}

// Run loads the universe, updates the store and aggregates as of today.
// Aggregation is skipped when the update was interrupted or hit a store
// error; the run report is written in every case where a summary exists.
func (p *Pipeline) Run(ctx context.Context) (*RunOutput, error) {
	u, err := p.LoadUniverse(ctx)
	if err != nil {
		return nil, err
	}

	out := &RunOutput{}
	summary, updateErr := p.Update(ctx, u.Tickers())
	out.Summary = summary

	var runErr error
	if updateErr != nil {
		runErr = fmt.Errorf("update: %w", updateErr)
	} else {
		agg, err := p.Aggregate(ctx, u.MetaMap(), p.Today())
		out.Aggregate = agg
		if err != nil {
			runErr = fmt.Errorf("aggregate: %w", err)
		}
	}

	if p.opts.Reports != nil {
		var res *metrics.Result
		var files []string
		if out.Aggregate != nil {
			res = out.Aggregate.Result
			files = out.Aggregate.Files
		}
		report := p.opts.Reports.Build(summary, res, p.opts.Engine.Config().Kinds, u.Issues)
		report.Outputs = files
		path, err := p.opts.Reports.WriteReport(report)
		if err != nil {
			runErr = errors.Join(runErr, err)
		}
		out.Report = path
	}

	return out, runErr
}
