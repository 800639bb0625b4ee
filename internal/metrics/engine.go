// Package metrics is the aggregation engine: per-ticker returns, group mean
// return series, trailing-window trend slopes and moving-average trends.
// Every output is a pure function of the store snapshot, the metadata and
// the as-of date.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/observability"
	"stock-trend-lab/internal/storage"
)

// ErrInvalidWindow is returned when the trend window is below 2.
var ErrInvalidWindow = errors.New("trend window must be at least 2")

// Config holds the aggregation settings.
type Config struct {
	TrendWindow     int             // trailing dates per slope, >= 2
	MinPrice        decimal.Decimal // tickers priced at or below are dropped
	MinGroupTickers int             // tickers needed for a group point, default 1
	PeriodDays      int             // 0 = full history
	MAWindows       []int           // per-ticker SMA windows
	MATrendWindow   int             // MA values per MA slope
	GroupMAWindow   int             // rolling window over group returns, 0 disables
	GroupMATop      int             // groups per kind to roll, by slope rank
	Kinds           []domain.GroupKind
}

// DefaultConfig returns the default aggregation settings.
func DefaultConfig() Config {
	return Config{
		TrendWindow:     21,
		MinPrice:        decimal.NewFromInt(1),
		MinGroupTickers: 1,
		MAWindows:       []int{20, 50, 200},
		MATrendWindow:   21,
		GroupMAWindow:   50,
		GroupMATop:      5,
		Kinds:           domain.GroupKinds,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.TrendWindow < 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindow, c.TrendWindow)
	}
	if c.MATrendWindow != 0 && c.MATrendWindow < 2 {
		return fmt.Errorf("%w: ma trend window %d", ErrInvalidWindow, c.MATrendWindow)
	}
	for _, k := range c.Kinds {
		if !k.IsValid() {
			return fmt.Errorf("unknown group kind %q", k)
		}
	}
	return nil
}

// Result is the output of one aggregation pass.
type Result struct {
	AsOf     time.Time
	Window   int
	Series   map[domain.GroupKind][]domain.ReturnSeries
	Slopes   map[domain.GroupKind][]domain.TrendSlope
	WindowBy map[domain.GroupKind][]time.Time // dates used for the slopes
	MATrends []domain.MATrend
	GroupMA  map[domain.GroupKind][]domain.GroupMovingAverage

	Records       int // records at or before AsOf inside the period
	Tickers       int
	NoMeta        []string // tickers in the store but not in the metadata
	BelowMinPrice []string
}

// AllSlopes returns slopes of every kind in kind order.
func (r *Result) AllSlopes(kinds []domain.GroupKind) []domain.TrendSlope {
	var out []domain.TrendSlope
	for _, k := range kinds {
		out = append(out, r.Slopes[k]...)
	}
	return out
}

// Engine runs aggregation passes.
type Engine struct {
	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// EngineOptions contains configuration for creating an Engine.
type EngineOptions struct {
	Config  Config
	Metrics *observability.Metrics
	Logger  *zerolog.Logger
}

// NewEngine creates an aggregation engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = domain.GroupKinds
	}
	if cfg.MinGroupTickers < 1 {
		cfg.MinGroupTickers = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "aggregate").Logger()
	}
	return &Engine{cfg: cfg, metrics: opts.Metrics, logger: logger}, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Aggregate computes group return series, trend slopes and MA trends as of
// asOf. Records after asOf are ignored. Tickers without metadata are
// excluded from grouping and reported, not treated as an error.
func (e *Engine) Aggregate(records []*domain.PriceRecord, metas map[string]*domain.TickerMeta, asOf time.Time) *Result {
	start := time.Now()
	asOf = domain.DateOf(asOf)

	history := make([]*domain.PriceRecord, 0, len(records))
	for _, r := range records {
		if !r.Date.After(asOf) {
			history = append(history, r)
		}
	}

	snapshot := history
	if e.cfg.PeriodDays > 0 {
		cutoff := domain.AddDays(asOf, -e.cfg.PeriodDays)
		snapshot = make([]*domain.PriceRecord, 0, len(history))
		for _, r := range history {
			if r.Date.After(cutoff) {
				snapshot = append(snapshot, r)
			}
		}
	}

	res := &Result{
		AsOf:     asOf,
		Window:   e.cfg.TrendWindow,
		Series:   make(map[domain.GroupKind][]domain.ReturnSeries),
		Slopes:   make(map[domain.GroupKind][]domain.TrendSlope),
		WindowBy: make(map[domain.GroupKind][]time.Time),
		GroupMA:  make(map[domain.GroupKind][]domain.GroupMovingAverage),
		Records:  len(snapshot),
	}
	e.classifyTickers(res, snapshot, metas)

	elig := Eligibility{MinPrice: e.cfg.MinPrice}
	returns := TickerReturns(snapshot)

	for _, kind := range e.cfg.Kinds {
		series := GroupReturns(returns, metas, kind, elig, e.cfg.MinGroupTickers)
		frame := FrameDates(series)
		window := SelectWindow(frame, e.cfg.TrendWindow, asOf)
		slopes := FitSlopes(series, window, e.cfg.TrendWindow)

		res.Series[kind] = series
		res.Slopes[kind] = slopes
		res.WindowBy[kind] = window

		if e.cfg.GroupMAWindow > 0 && e.cfg.GroupMATop > 0 {
			res.GroupMA[kind] = GroupMovingAverages(series, frame, topLabels(slopes, e.cfg.GroupMATop), e.cfg.GroupMAWindow)
		}
	}

	if len(e.cfg.MAWindows) > 0 {
		res.MATrends = MATrends(history, e.cfg.MAWindows, e.cfg.MATrendWindow)
	}

	elapsed := time.Since(start)
	all := res.AllSlopes(e.cfg.Kinds)
	e.metrics.RecordAggregate(elapsed, all)

	present := 0
	for _, s := range all {
		if s.HasSlope() {
			present++
		}
	}
	e.logger.Info().
		Str("as_of", domain.FormatDate(asOf)).
		Int("records", res.Records).
		Int("tickers", res.Tickers).
		Int("no_meta", len(res.NoMeta)).
		Int("slopes", present).
		Int("absent", len(all)-present).
		Dur("elapsed", elapsed).
		Msg("aggregation finished")

	return res
}

func (e *Engine) classifyTickers(res *Result, records []*domain.PriceRecord, metas map[string]*domain.TickerMeta) {
	seen := make(map[string]bool)
	for _, r := range records {
		if seen[r.Ticker] {
			continue
		}
		seen[r.Ticker] = true

		meta, ok := metas[r.Ticker]
		switch {
		case !ok:
			res.NoMeta = append(res.NoMeta, r.Ticker)
		case !meta.Price.GreaterThan(e.cfg.MinPrice):
			res.BelowMinPrice = append(res.BelowMinPrice, r.Ticker)
		}
	}
	res.Tickers = len(seen)
	sort.Strings(res.NoMeta)
	sort.Strings(res.BelowMinPrice)
}

// topLabels returns the labels of the first n present slopes.
func topLabels(slopes []domain.TrendSlope, n int) []string {
	var out []string
	for _, s := range slopes {
		if len(out) == n {
			break
		}
		if s.HasSlope() {
			out = append(out, s.Label)
		}
	}
	return out
}

// Aggregator reads a store snapshot and runs the engine over it.
type Aggregator struct {
	store  storage.PriceStore
	engine *Engine
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store storage.PriceStore, engine *Engine) *Aggregator {
	return &Aggregator{store: store, engine: engine}
}

// Aggregate reads the whole store and aggregates as of asOf.
// A store read error, or a snapshot out of (ticker, date) order, is
// returned and nothing is computed.
func (a *Aggregator) Aggregate(ctx context.Context, metas map[string]*domain.TickerMeta, asOf time.Time) (*Result, error) {
	records, err := a.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read store snapshot: %w", err)
	}
	if err := storage.ValidateOrdering(records); err != nil {
		return nil, fmt.Errorf("read store snapshot: %w: %w", storage.ErrCorrupt, err)
	}
	return a.engine.Aggregate(records, metas, asOf), nil
}
