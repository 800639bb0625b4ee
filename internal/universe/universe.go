// Package universe loads the ticker universe file and applies validity rules.
// Rows that fail a rule are excluded and reported as Issues, never as errors.
package universe

import (
	"sort"

	"stock-trend-lab/internal/domain"
)

// Universe is the loaded set of valid tickers with their metadata.
type Universe struct {
	metas  map[string]*domain.TickerMeta
	order  []string
	Issues []Issue
}

// New builds a Universe from already validated metadata rows.
// Later rows for the same ticker replace earlier ones.
func New(metas []*domain.TickerMeta) *Universe {
	u := &Universe{metas: make(map[string]*domain.TickerMeta, len(metas))}
	for _, m := range metas {
		if _, ok := u.metas[m.Ticker]; !ok {
			u.order = append(u.order, m.Ticker)
		}
		u.metas[m.Ticker] = m
	}
	return u
}

// Tickers returns tickers in file order.
func (u *Universe) Tickers() []string {
	out := make([]string, len(u.order))
	copy(out, u.order)
	return out
}

// Metas returns metadata rows ordered by ticker.
func (u *Universe) Metas() []*domain.TickerMeta {
	out := make([]*domain.TickerMeta, 0, len(u.metas))
	for _, m := range u.metas {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Lookup returns the metadata of a ticker.
func (u *Universe) Lookup(ticker string) (*domain.TickerMeta, bool) {
	m, ok := u.metas[ticker]
	return m, ok
}

// Len returns the number of valid tickers.
func (u *Universe) Len() int {
	return len(u.order)
}

// MetaMap returns ticker -> metadata for the aggregation engine.
func (u *Universe) MetaMap() map[string]*domain.TickerMeta {
	out := make(map[string]*domain.TickerMeta, len(u.metas))
	for k, v := range u.metas {
		out[k] = v
	}
	return out
}
