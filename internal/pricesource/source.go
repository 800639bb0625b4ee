// Package pricesource provides clients for upstream daily price sources.
// Clients return the source's bars as-is; normalization to PriceRecord
// happens downstream.
package pricesource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
)

// Request asks for daily bars of one ticker in [Start, End).
type Request struct {
	Ticker string
	Start  time.Time
	End    time.Time // exclusive
}

// Days returns the number of calendar days requested.
func (r Request) Days() int {
	if !r.End.After(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Bar is one daily bar in the source's shape. Time may carry a time of day
// and a zone; Volume may be fractional for some sources.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume float64
}

// Source fetches daily bars. Implementations make one upstream call per
// Fetch and never retry.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]Bar, error)
}

var (
	// ErrNotFound means the upstream does not know the ticker.
	ErrNotFound = errors.New("pricesource: ticker not found")
)

// APIError is a non-2xx upstream response.
type APIError struct {
	Source     string
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s (status: %d, endpoint: %s)", e.Source, e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError means the upstream throttled the request.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Source, e.RetryAfter)
}

// DecodeError means the response body could not be parsed.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode response: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Classify maps a Fetch error to a failure kind.
func Classify(err error) domain.FailureKind {
	var (
		rateErr   *RateLimitError
		apiErr    *APIError
		decodeErr *DecodeError
	)
	switch {
	case errors.As(err, &rateErr):
		return domain.FailureRateLimit
	case errors.Is(err, ErrNotFound):
		return domain.FailureNotFound
	case errors.As(err, &decodeErr):
		return domain.FailureParse
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return domain.FailureNotFound
		case http.StatusTooManyRequests:
			return domain.FailureRateLimit
		}
	}
	return domain.FailureTransient
}
