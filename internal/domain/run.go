package domain

import "time"

// RunSummary reports the counts of one update run.
// Always produced, including on partial failure or cancellation.
type RunSummary struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Today            time.Time
	TickersTotal     int // universe size considered
	TickersPlanned   int
	TickersCurrent   int // already up to date, not planned
	TickersInactive  int // watermark too old, skipped
	Quarantined      int // skipped because quarantined
	Fetched          int // fetches returning rows
	Empty            int // fetches returning no rows
	Failed           int
	NewlyQuarantined int
	RowsCommitted    int
	Checkpoints      int
	Failures         []FetchFailure
	Interrupted      bool
}

// Duration returns the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
