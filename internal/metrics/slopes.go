package metrics

import (
	"sort"
	"time"

	"stock-trend-lab/internal/domain"
)

// SelectWindow returns the trailing window dates of the frame at or before
// asOf. It returns fewer than window dates when the frame is shorter.
func SelectWindow(frame []time.Time, window int, asOf time.Time) []time.Time {
	end := sort.Search(len(frame), func(i int) bool { return frame[i].After(asOf) })
	start := end - window
	if start < 0 {
		start = 0
	}
	return frame[start:end]
}

// FitSlopes fits the trend slope of every series over the window dates.
// A series lacking a value on any window date, or a window shorter than
// windowSize, gets an absent slope. Missing days are never padded.
func FitSlopes(series []domain.ReturnSeries, dates []time.Time, windowSize int) []domain.TrendSlope {
	out := make([]domain.TrendSlope, 0, len(series))
	for _, s := range series {
		byDate := make(map[time.Time]float64, len(s.Points))
		for _, p := range s.Points {
			byDate[p.Date] = p.Mean
		}

		y := make([]float64, 0, len(dates))
		for _, d := range dates {
			if v, ok := byDate[d]; ok {
				y = append(y, v)
			}
		}

		ts := domain.TrendSlope{
			Kind:        s.Kind,
			Label:       s.Label,
			WindowSize:  windowSize,
			SampleCount: len(y),
		}
		if len(dates) == windowSize && len(y) == windowSize {
			if slope, ok := computeSlope(y); ok {
				ts.Slope = &slope
			}
		}
		out = append(out, ts)
	}

	SortSlopes(out)
	return out
}

// SortSlopes orders slopes descending, ties by label ascending. Absent
// slopes follow all present ones, by label ascending.
func SortSlopes(slopes []domain.TrendSlope) {
	sort.SliceStable(slopes, func(i, j int) bool {
		a, b := slopes[i], slopes[j]
		switch {
		case a.HasSlope() && !b.HasSlope():
			return true
		case !a.HasSlope() && b.HasSlope():
			return false
		case a.HasSlope() && *a.Slope != *b.Slope:
			return *a.Slope > *b.Slope
		}
		return a.Label < b.Label
	})
}
