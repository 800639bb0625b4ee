package pricesource

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
)

// Call records one Fetch on a Stub.
type Call struct {
	Request Request
	At      time.Time
}

// Stub is a deterministic in-process source for tests and dry runs.
// Fixed bars take precedence; otherwise, when Generate is set, a seeded
// price series is produced for weekdays in the requested range.
type Stub struct {
	Bars     map[string][]Bar
	Errors   map[string]error
	Generate bool
	Delay    time.Duration // simulated latency

	mu    sync.Mutex
	calls []Call
	now   func() time.Time
}

// NewStub creates a stub serving the given bars.
func NewStub(bars map[string][]Bar) *Stub {
	if bars == nil {
		bars = make(map[string][]Bar)
	}
	return &Stub{Bars: bars, Errors: make(map[string]error), now: time.Now}
}

// Name returns the source identifier.
func (s *Stub) Name() string { return "stub" }

// Calls returns the calls made so far in order.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Fetch returns the stub's bars for the ticker within [Start, End).
// Bars outside the range are returned too; filtering is the caller's job.
func (s *Stub) Fetch(ctx context.Context, req Request) ([]Bar, error) {
	s.mu.Lock()
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	s.calls = append(s.calls, Call{Request: req, At: now()})
	err := s.Errors[req.Ticker]
	bars, fixed := s.Bars[req.Ticker]
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if fixed {
		out := make([]Bar, len(bars))
		copy(out, bars)
		return out, nil
	}
	if s.Generate {
		return generate(req), nil
	}
	return nil, nil
}

// generate produces prices seeded by ticker. The close on a given
// date depends only on ticker and date.
func generate(req Request) []Bar {
	var bars []Bar
	for d := domain.DateOf(req.Start); d.Before(req.End); d = domain.AddDays(d, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(req.Ticker))
		r := rand.New(rand.NewPCG(h.Sum64(), uint64(d.Unix())))

		base := 20 + float64(h.Sum64()%200)
		cl := base * (1 + (r.Float64()-0.5)*0.1)
		op := cl * (1 + (r.Float64()-0.5)*0.02)
		bars = append(bars, Bar{
			Time:   d,
			Open:   decimal.NewFromFloat(op).Round(2),
			High:   decimal.NewFromFloat(max(op, cl) * 1.01).Round(2),
			Low:    decimal.NewFromFloat(min(op, cl) * 0.99).Round(2),
			Close:  decimal.NewFromFloat(cl).Round(2),
			Volume: float64(100_000 + r.IntN(900_000)),
		})
	}
	return bars
}
