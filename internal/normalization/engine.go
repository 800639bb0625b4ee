// Package normalization turns a price source's bars into PriceRecords.
// Dates lose their time of day and zone, rows outside the requested range
// are dropped and duplicate dates collapse to the last bar. Rows on or after
// the first invalid bar are dropped too, so the watermark never passes a
// date that was not stored.
package normalization

import (
	"errors"
	"fmt"
	"math"
	"time"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/pricesource"
)

// ErrMalformed is returned when a non-empty response has no usable bar.
var ErrMalformed = errors.New("normalization: no valid bar in response")

// Report counts what normalization dropped.
type Report struct {
	Input      int
	Kept       int
	OutOfRange int
	Invalid    int
	Truncated  int // valid rows dropped after an invalid bar
	Duplicates int
}

// Normalizer converts bars of one exchange.
type Normalizer struct {
	loc *time.Location
}

// New creates a normalizer for an exchange time zone. Bars stamped at a
// time of day are assigned the trading date in loc. A nil loc means UTC.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Location returns the exchange time zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// TradingDate returns the calendar date of a bar timestamp.
// Date-only values (UTC midnight) are kept as they are.
func (n *Normalizer) TradingDate(t time.Time) time.Time {
	if domain.IsDate(t) {
		return t
	}
	return domain.DateIn(t, n.loc)
}

// Normalize converts the bars of one request into records sorted by date.
func (n *Normalizer) Normalize(req pricesource.Request, bars []pricesource.Bar) ([]*domain.PriceRecord, Report, error) {
	rep := Report{Input: len(bars)}
	if len(bars) == 0 {
		return nil, rep, nil
	}

	start := domain.DateOf(req.Start)
	end := domain.DateOf(req.End)

	var firstInvalid time.Time
	byDate := make(map[time.Time]*domain.PriceRecord, len(bars))
	for _, b := range bars {
		date := n.TradingDate(b.Time)
		if date.Before(start) || !date.Before(end) {
			rep.OutOfRange++
			continue
		}

		rec, err := toRecord(req.Ticker, date, b)
		if err != nil {
			rep.Invalid++
			if firstInvalid.IsZero() || date.Before(firstInvalid) {
				firstInvalid = date
			}
			continue
		}

		if _, dup := byDate[date]; dup {
			rep.Duplicates++
		}
		byDate[date] = rec
	}

	records := make([]*domain.PriceRecord, 0, len(byDate))
	for date, rec := range byDate {
		if !firstInvalid.IsZero() && !date.Before(firstInvalid) {
			rep.Truncated++
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 && rep.Invalid > 0 {
		return nil, rep, fmt.Errorf("%w: %s: invalid bar on %s", ErrMalformed, req.Ticker, domain.FormatDate(firstInvalid))
	}

	SortByDate(records)
	rep.Kept = len(records)
	return records, rep, nil
}

func toRecord(ticker string, date time.Time, b pricesource.Bar) (*domain.PriceRecord, error) {
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return nil, fmt.Errorf("volume %v", b.Volume)
	}
	rec := &domain.PriceRecord{
		Ticker: ticker,
		Date:   date,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: int64(math.Round(b.Volume)),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
