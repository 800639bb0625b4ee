package domain

import (
	"fmt"
	"time"
)

// FailureKind classifies a FetchFailure.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"  // network, timeout, 5xx
	FailureRateLimit FailureKind = "rate_limit" // upstream throttled us
	FailureParse     FailureKind = "parse"      // response could not be normalized
	FailureNotFound  FailureKind = "not_found"  // upstream does not know the ticker
)

// FetchFailure is the typed failure of fetching one ticker.
// It never aborts a run.
type FetchFailure struct {
	Ticker string
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *FetchFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("fetch %s (%s): %s: %v", f.Ticker, f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %s", f.Ticker, f.Kind, f.Reason)
}

func (f *FetchFailure) Unwrap() error {
	return f.Err
}

// FetchStatus is the outcome of one fetch.
type FetchStatus string

const (
	FetchOK     FetchStatus = "ok"
	FetchEmpty  FetchStatus = "empty"
	FetchFailed FetchStatus = "failed"
)

// FetchResult is what the executor returns for one ticker.
type FetchResult struct {
	Ticker   string
	Start    time.Time
	Status   FetchStatus
	Records  []*PriceRecord // set when Status == FetchOK
	Failure  *FetchFailure  // set when Status == FetchFailed
	Duration time.Duration
}
