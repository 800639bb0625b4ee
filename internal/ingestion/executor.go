package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/normalization"
	"stock-trend-lab/internal/observability"
	"stock-trend-lab/internal/pricesource"
)

// NewPacer returns a limiter that spaces call starts at least delay apart.
// Share one pacer across workers to enforce the delay in aggregate.
// A zero delay returns an unlimited pacer.
func NewPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Executor fetches one ticker per call, paced, and returns a typed result.
type Executor struct {
	source     pricesource.Source
	normalizer *normalization.Normalizer
	pacer      *rate.Limiter
	metrics    *observability.Metrics
	now        func() time.Time
	logger     zerolog.Logger
}

// ExecutorOptions contains configuration for creating an Executor.
type ExecutorOptions struct {
	Source      pricesource.Source
	Normalizer  *normalization.Normalizer // default: UTC
	PacingDelay time.Duration             // ignored when Pacer is set
	Pacer       *rate.Limiter
	Metrics     *observability.Metrics
	Clock       func() time.Time
	Logger      *zerolog.Logger
}

// NewExecutor creates a new executor.
func NewExecutor(opts ExecutorOptions) *Executor {
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = normalization.New(nil)
	}

	pacer := opts.Pacer
	if pacer == nil {
		pacer = NewPacer(opts.PacingDelay)
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "executor").Logger()
	}

	return &Executor{
		source:     opts.Source,
		normalizer: normalizer,
		pacer:      pacer,
		metrics:    opts.Metrics,
		now:        now,
		logger:     logger,
	}
}

// Fetch requests [start, today) for one ticker. Source and normalization
// errors become a FetchFailure in the result. The returned error is set only
// when ctx ends, or its deadline would pass, before the call is made.
func (e *Executor) Fetch(ctx context.Context, ticker string, start, today time.Time) (*domain.FetchResult, error) {
	waitStart := e.now()
	if err := e.pacer.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The next pacing slot is past the deadline.
		return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	e.metrics.RecordPacingWait(e.now().Sub(waitStart))

	req := pricesource.Request{Ticker: ticker, Start: start, End: today}
	res := &domain.FetchResult{Ticker: ticker, Start: start}

	callStart := e.now()
	bars, err := e.source.Fetch(ctx, req)
	res.Duration = e.now().Sub(callStart)

	log := e.logger.With().Str("ticker", ticker).Str("start", domain.FormatDate(start)).Logger()

	switch {
	case err != nil:
		res.Status = domain.FetchFailed
		res.Failure = &domain.FetchFailure{
			Ticker: ticker,
			Kind:   pricesource.Classify(err),
			Reason: err.Error(),
			Err:    err,
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Failure.Kind = domain.FailureTransient
		}
		log.Warn().Err(err).Str("kind", string(res.Failure.Kind)).Msg("fetch failed")

	default:
		records, rep, nerr := e.normalizer.Normalize(req, bars)
		switch {
		case nerr != nil:
			res.Status = domain.FetchFailed
			res.Failure = &domain.FetchFailure{
				Ticker: ticker,
				Kind:   domain.FailureParse,
				Reason: nerr.Error(),
				Err:    nerr,
			}
			log.Warn().Err(nerr).Msg("normalize failed")
		case len(records) == 0:
			res.Status = domain.FetchEmpty
			log.Debug().Int("bars", rep.Input).Msg("no new rows")
		default:
			res.Status = domain.FetchOK
			res.Records = records
			if rep.Invalid > 0 {
				log.Warn().
					Int("invalid", rep.Invalid).
					Int("truncated", rep.Truncated).
					Str("through", domain.FormatDate(records[len(records)-1].Date)).
					Msg("invalid bars, keeping rows before the first one")
			}
			log.Debug().Int("rows", len(records)).Int("dropped", rep.Input-rep.Kept).Msg("fetched")
		}
	}

	e.metrics.RecordFetch(e.source.Name(), res)
	return res, nil
}
