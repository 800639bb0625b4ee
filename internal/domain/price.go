package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is one daily OHLCV bar for a ticker.
// Corresponds to price_history table; key is (Ticker, Date).
type PriceRecord struct {
	Ticker string          // uppercase ticker symbol
	Date   time.Time       // trading day, UTC midnight (see DateOf)
	Open   decimal.Decimal // session open
	High   decimal.Decimal // session high
	Low    decimal.Decimal // session low
	Close  decimal.Decimal // session close
	Volume int64           // shares traded, never negative
}

// Key returns the dedup key of the record.
func (r *PriceRecord) Key() RecordKey {
	return RecordKey{Ticker: r.Ticker, Date: r.Date}
}

// Validate checks the record invariants.
func (r *PriceRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("nil price record")
	}
	if strings.TrimSpace(r.Ticker) == "" {
		return fmt.Errorf("price record: empty ticker")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("price record %s: zero date", r.Ticker)
	}
	if !IsDate(r.Date) {
		return fmt.Errorf("price record %s: date %s has a time component", r.Ticker, r.Date.Format(time.RFC3339))
	}
	if !r.Close.IsPositive() {
		return fmt.Errorf("price record %s %s: close must be positive", r.Ticker, FormatDate(r.Date))
	}
	if r.Open.IsNegative() || r.High.IsNegative() || r.Low.IsNegative() {
		return fmt.Errorf("price record %s %s: negative price", r.Ticker, FormatDate(r.Date))
	}
	if r.Volume < 0 {
		return fmt.Errorf("price record %s %s: negative volume", r.Ticker, FormatDate(r.Date))
	}
	return nil
}

// CloseFloat returns Close as float64 for statistics.
func (r *PriceRecord) CloseFloat() float64 {
	f, _ := r.Close.Float64()
	return f
}

// RecordKey identifies a PriceRecord.
type RecordKey struct {
	Ticker string
	Date   time.Time
}

// Less orders keys by (Ticker, Date).
func (k RecordKey) Less(o RecordKey) bool {
	if k.Ticker != o.Ticker {
		return k.Ticker < o.Ticker
	}
	return k.Date.Before(o.Date)
}

// String returns "TICKER|YYYY-MM-DD".
func (k RecordKey) String() string {
	return k.Ticker + "|" + FormatDate(k.Date)
}
