package domain

import "time"

// ReturnPoint is the mean daily fractional return of a group on one date.
type ReturnPoint struct {
	Date    time.Time
	Mean    float64
	Tickers int // tickers contributing to the mean
}

// ReturnSeries is a group's mean return per date, ordered by Date ASC.
// Recomputed from the store snapshot on every aggregation.
type ReturnSeries struct {
	Kind   GroupKind
	Label  string
	Points []ReturnPoint
}

// TrendSlope is the OLS slope of a group's trailing return window.
// Slope is nil when the window has fewer than WindowSize valid samples.
type TrendSlope struct {
	Kind        GroupKind
	Label       string
	Slope       *float64 // nil = insufficient data, never zero
	WindowSize  int
	SampleCount int
}

// HasSlope reports whether the slope was fitted.
func (s *TrendSlope) HasSlope() bool {
	return s.Slope != nil
}

// MATrend holds a ticker's latest simple moving averages and the slope of
// each MA over the trailing trend window. Nil entries mean not enough data.
type MATrend struct {
	Ticker   string
	AsOf     time.Time // date of the latest close used
	Close    float64
	Averages map[int]*float64 // MA window -> latest MA value
	Slopes   map[int]*float64 // MA window -> OLS slope of the MA
}

// GroupMAPoint is one value of a rolling mean over a group return series.
type GroupMAPoint struct {
	Date  time.Time
	Value float64
}

// GroupMovingAverage is the rolling mean of a group return series.
type GroupMovingAverage struct {
	Kind   GroupKind
	Label  string
	Window int
	Points []GroupMAPoint
}
