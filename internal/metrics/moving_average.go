package metrics

import (
	"sort"
	"time"

	"stock-trend-lab/internal/domain"
)

// MATrends computes, per ticker, the latest simple moving average of Close
// for each window and the OLS slope of that MA over its last trendWindow
// values. Records must not extend past the as-of date. Output is sorted by
// ticker.
func MATrends(records []*domain.PriceRecord, windows []int, trendWindow int) []domain.MATrend {
	byTicker := make(map[string][]*domain.PriceRecord)
	for _, r := range records {
		byTicker[r.Ticker] = append(byTicker[r.Ticker], r)
	}

	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make([]domain.MATrend, 0, len(tickers))
	for _, ticker := range tickers {
		recs := byTicker[ticker]
		sort.Slice(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })

		closes := make([]float64, len(recs))
		for i, r := range recs {
			closes[i] = r.CloseFloat()
		}

		last := recs[len(recs)-1]
		trend := domain.MATrend{
			Ticker:   ticker,
			AsOf:     last.Date,
			Close:    closes[len(closes)-1],
			Averages: make(map[int]*float64, len(windows)),
			Slopes:   make(map[int]*float64, len(windows)),
		}
		for _, w := range windows {
			sma := computeSMA(closes, w)
			if len(sma) > 0 {
				v := sma[len(sma)-1]
				trend.Averages[w] = &v
			} else {
				trend.Averages[w] = nil
			}

			trend.Slopes[w] = nil
			if y := lastN(sma, trendWindow); y != nil {
				if slope, ok := computeSlope(y); ok {
					trend.Slopes[w] = &slope
				}
			}
		}
		out = append(out, trend)
	}
	return out
}

// GroupMovingAverages computes the rolling mean of each listed group's
// return series over the frame dates. A value at a date exists only when
// the group has a return on all window frame dates ending there.
func GroupMovingAverages(series []domain.ReturnSeries, frame []time.Time, labels []string, window int) []domain.GroupMovingAverage {
	if window <= 0 {
		return nil
	}

	byLabel := make(map[string]domain.ReturnSeries, len(series))
	for _, s := range series {
		byLabel[s.Label] = s
	}

	var out []domain.GroupMovingAverage
	for _, label := range labels {
		s, ok := byLabel[label]
		if !ok {
			continue
		}
		values := make(map[time.Time]float64, len(s.Points))
		for _, p := range s.Points {
			values[p.Date] = p.Mean
		}

		gma := domain.GroupMovingAverage{Kind: s.Kind, Label: label, Window: window}
		sum, run := 0.0, 0
		for i, d := range frame {
			v, ok := values[d]
			if !ok {
				sum, run = 0, 0
				continue
			}
			sum += v
			run++
			if run > window {
				sum -= values[frame[i-window]]
				run = window
			}
			if run == window {
				gma.Points = append(gma.Points, domain.GroupMAPoint{Date: d, Value: sum / float64(window)})
			}
		}
		out = append(out, gma)
	}
	return out
}
