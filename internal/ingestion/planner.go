package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// PlanConfig holds the planner settings.
type PlanConfig struct {
	DefaultLookback domain.Lookback
	InactivityDays  int // 0 disables the stale-ticker skip
}

// PlanEntry is one ticker to fetch from Start up to today (exclusive).
type PlanEntry struct {
	Ticker       string
	Start        time.Time
	Watermark    time.Time // zero when HasWatermark is false
	HasWatermark bool
}

// Plan is the outcome of planning one run.
type Plan struct {
	Today       time.Time
	Entries     []PlanEntry // in input ticker order
	Current     []string    // already up to date
	Inactive    []string    // watermark older than the inactivity cutoff
	Quarantined []string
	Total       int // distinct tickers considered
}

// Tickers returns the tickers to fetch in plan order.
func (p *Plan) Tickers() []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Ticker
	}
	return out
}

// StartDates returns ticker -> start date.
func (p *Plan) StartDates() map[string]time.Time {
	out := make(map[string]time.Time, len(p.Entries))
	for _, e := range p.Entries {
		out[e.Ticker] = e.Start
	}
	return out
}

// StartDate computes the first date to request for a ticker.
// With a watermark w it is w + 1 day, otherwise today - lookback.
func StartDate(watermark time.Time, hasWatermark bool, today time.Time, lookback domain.Lookback) time.Time {
	if hasWatermark {
		return domain.AddDays(domain.DateOf(watermark), 1)
	}
	return lookback.Before(today)
}

// BuildPlan computes the fetch plan from watermark state. It performs no I/O.
// Duplicate tickers are planned once, at their first position.
func BuildPlan(tickers []string, watermarks map[string]time.Time, quarantined map[string]bool, today time.Time, cfg PlanConfig) *Plan {
	today = domain.DateOf(today)
	plan := &Plan{Today: today}

	var inactiveCutoff time.Time
	if cfg.InactivityDays > 0 {
		inactiveCutoff = domain.AddDays(today, -cfg.InactivityDays)
	}

	seen := make(map[string]bool, len(tickers))
	for _, ticker := range tickers {
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		plan.Total++

		if quarantined[ticker] {
			plan.Quarantined = append(plan.Quarantined, ticker)
			continue
		}

		w, ok := watermarks[ticker]
		if ok && !inactiveCutoff.IsZero() && w.Before(inactiveCutoff) {
			plan.Inactive = append(plan.Inactive, ticker)
			continue
		}

		start := StartDate(w, ok, today, cfg.DefaultLookback)
		if !start.Before(today) {
			plan.Current = append(plan.Current, ticker)
			continue
		}

		entry := PlanEntry{Ticker: ticker, Start: start, HasWatermark: ok}
		if ok {
			entry.Watermark = domain.DateOf(w)
		}
		plan.Entries = append(plan.Entries, entry)
	}

	return plan
}

// Planner reads the store's watermark index and builds a Plan.
type Planner struct {
	store      storage.PriceStore
	quarantine storage.QuarantineStore
	cfg        PlanConfig
	logger     zerolog.Logger
}

// PlannerOptions contains configuration for creating a Planner.
type PlannerOptions struct {
	Store      storage.PriceStore
	Quarantine storage.QuarantineStore // optional
	Config     PlanConfig
	Logger     *zerolog.Logger
}

// NewPlanner creates a new planner.
func NewPlanner(opts PlannerOptions) *Planner {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "planner").Logger()
	}
	return &Planner{
		store:      opts.Store,
		quarantine: opts.Quarantine,
		cfg:        opts.Config,
		logger:     logger,
	}
}

// Plan builds the fetch plan for the given tickers as of today.
// An unreadable store fails the plan; it is never treated as empty.
func (p *Planner) Plan(ctx context.Context, tickers []string, today time.Time) (*Plan, error) {
	watermarks, err := p.store.Watermarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("read watermarks: %w", err)
	}

	quarantined := make(map[string]bool)
	if p.quarantine != nil {
		entries, err := p.quarantine.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("read quarantine: %w", err)
		}
		for _, e := range entries {
			quarantined[e.Ticker] = true
		}
	}

	plan := BuildPlan(tickers, watermarks, quarantined, today, p.cfg)

	p.logger.Info().
		Str("today", domain.FormatDate(plan.Today)).
		Int("total", plan.Total).
		Int("planned", len(plan.Entries)).
		Int("current", len(plan.Current)).
		Int("inactive", len(plan.Inactive)).
		Int("quarantined", len(plan.Quarantined)).
		Msg("plan built")

	return plan, nil
}
