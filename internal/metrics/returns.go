package metrics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
)

// TickerReturn is a ticker's daily fractional return on one date.
type TickerReturn struct {
	Ticker string
	Date   time.Time
	Return float64
}

// TickerReturns computes (close[t] - close[t-1]) / close[t-1] for each
// ticker, where t-1 is the ticker's previous observed date. The first date
// of every ticker has no return. Records may be in any order.
func TickerReturns(records []*domain.PriceRecord) []TickerReturn {
	sorted := make([]*domain.PriceRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key().Less(sorted[j].Key())
	})

	var out []TickerReturn
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Ticker != cur.Ticker || !prev.Date.Before(cur.Date) {
			continue
		}
		out = append(out, TickerReturn{
			Ticker: cur.Ticker,
			Date:   cur.Date,
			Return: computeReturn(prev.CloseFloat(), cur.CloseFloat()),
		})
	}
	return out
}

// Eligibility decides which tickers join a group. A ticker needs metadata,
// a non-blank group label and a price above MinPrice.
type Eligibility struct {
	MinPrice decimal.Decimal
}

// Label returns the ticker's group label, or "" when the ticker is excluded.
func (e Eligibility) Label(meta *domain.TickerMeta, kind domain.GroupKind) string {
	if meta == nil || !meta.Price.GreaterThan(e.MinPrice) {
		return ""
	}
	return meta.Group(kind)
}

// GroupReturns averages ticker returns per (date, group label). A point is
// emitted only when at least minTickers tickers contribute. Series are
// sorted by label and points by date.
func GroupReturns(returns []TickerReturn, metas map[string]*domain.TickerMeta, kind domain.GroupKind, elig Eligibility, minTickers int) []domain.ReturnSeries {
	if minTickers < 1 {
		minTickers = 1
	}

	type key struct {
		label string
		date  time.Time
	}
	values := make(map[key][]float64)

	// Deterministic summation order: by ticker, then date.
	sorted := make([]TickerReturn, len(returns))
	copy(sorted, returns)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Ticker != sorted[j].Ticker {
			return sorted[i].Ticker < sorted[j].Ticker
		}
		return sorted[i].Date.Before(sorted[j].Date)
	})

	for _, r := range sorted {
		label := elig.Label(metas[r.Ticker], kind)
		if label == "" {
			continue
		}
		k := key{label: label, date: r.Date}
		values[k] = append(values[k], r.Return)
	}

	byLabel := make(map[string][]domain.ReturnPoint)
	for k, vals := range values {
		if len(vals) < minTickers {
			continue
		}
		byLabel[k.label] = append(byLabel[k.label], domain.ReturnPoint{
			Date:    k.date,
			Mean:    computeMean(vals),
			Tickers: len(vals),
		})
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make([]domain.ReturnSeries, 0, len(labels))
	for _, label := range labels {
		points := byLabel[label]
		sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
		out = append(out, domain.ReturnSeries{Kind: kind, Label: label, Points: points})
	}
	return out
}

// FrameDates returns the sorted union of dates present in any series.
func FrameDates(series []domain.ReturnSeries) []time.Time {
	seen := make(map[time.Time]bool)
	for _, s := range series {
		for _, p := range s.Points {
			seen[p.Date] = true
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
