package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/pricesource"
)

func stubBar(date string, px float64) pricesource.Bar {
	c := decimal.NewFromFloat(px)
	return pricesource.Bar{Time: domain.MustDate(date), Open: c, High: c, Low: c, Close: c, Volume: 1000}
}

func TestExecutor_Fetch(t *testing.T) {
	src := pricesource.NewStub(map[string][]pricesource.Bar{
		"AAPL": {stubBar("2024-01-05", 105), stubBar("2024-01-06", 107)},
		"IPO":  {},
	})
	src.Errors["DEAD"] = pricesource.ErrNotFound
	src.Errors["SLOW"] = &pricesource.APIError{Source: "stub", StatusCode: 503}

	exec := NewExecutor(ExecutorOptions{Source: src})
	ctx := context.Background()
	start := domain.MustDate("2024-01-06")
	today := domain.MustDate("2024-01-08")

	res, err := exec.Fetch(ctx, "AAPL", start, today)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchOK, res.Status)
	require.Len(t, res.Records, 1, "rows before start are dropped")
	assert.Equal(t, "AAPL|2024-01-06", res.Records[0].Key().String())

	res, err = exec.Fetch(ctx, "IPO", start, today)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchEmpty, res.Status)
	assert.Nil(t, res.Failure)

	res, err = exec.Fetch(ctx, "DEAD", start, today)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureNotFound, res.Failure.Kind)
	assert.ErrorIs(t, res.Failure, pricesource.ErrNotFound)

	res, err = exec.Fetch(ctx, "SLOW", start, today)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureTransient, res.Failure.Kind)

	calls := src.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, today, calls[0].Request.End)
}

func TestExecutor_ParseFailure(t *testing.T) {
	src := pricesource.NewStub(map[string][]pricesource.Bar{
		"BAD": {stubBar("2024-01-06", 0)},
	})
	exec := NewExecutor(ExecutorOptions{Source: src})

	res, err := exec.Fetch(context.Background(), "BAD", domain.MustDate("2024-01-06"), domain.MustDate("2024-01-08"))
	require.NoError(t, err)
	assert.Equal(t, domain.FetchFailed, res.Status)
	assert.Equal(t, domain.FailureParse, res.Failure.Kind)
}

func TestExecutor_PacesCallStarts(t *testing.T) {
	const delay = 40 * time.Millisecond

	src := pricesource.NewStub(nil)
	src.Errors["B"] = errors.New("boom")
	exec := NewExecutor(ExecutorOptions{Source: src, PacingDelay: delay})

	start := domain.MustDate("2024-01-02")
	today := domain.MustDate("2024-01-08")
	for _, ticker := range []string{"A", "B", "C", "D"} {
		_, err := exec.Fetch(context.Background(), ticker, start, today)
		require.NoError(t, err)
	}

	calls := src.Calls()
	require.Len(t, calls, 4)
	for i := 1; i < len(calls); i++ {
		gap := calls[i].At.Sub(calls[i-1].At)
		assert.GreaterOrEqual(t, gap, delay-5*time.Millisecond, "gap %d after %s", i, calls[i-1].Request.Ticker)
	}
}

func TestExecutor_SharedPacer(t *testing.T) {
	const delay = 30 * time.Millisecond

	src := pricesource.NewStub(nil)
	pacer := NewPacer(delay)
	a := NewExecutor(ExecutorOptions{Source: src, Pacer: pacer})
	b := NewExecutor(ExecutorOptions{Source: src, Pacer: pacer})

	start := domain.MustDate("2024-01-02")
	today := domain.MustDate("2024-01-08")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, _ = a.Fetch(context.Background(), "A", start, today)
		}
	}()
	for i := 0; i < 3; i++ {
		_, _ = b.Fetch(context.Background(), "B", start, today)
	}
	<-done

	calls := src.Calls()
	require.Len(t, calls, 6)
	first, last := calls[0].At, calls[len(calls)-1].At
	assert.GreaterOrEqual(t, last.Sub(first), 5*delay-10*time.Millisecond)
}

func TestExecutor_CancelledBeforeCall(t *testing.T) {
	src := pricesource.NewStub(nil)
	exec := NewExecutor(ExecutorOptions{Source: src, PacingDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	start := domain.MustDate("2024-01-02")
	today := domain.MustDate("2024-01-08")

	_, err := exec.Fetch(ctx, "A", start, today) // consumes the burst
	require.NoError(t, err)

	cancel()
	_, err = exec.Fetch(ctx, "B", start, today)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, src.Calls(), 1)
}

func TestExecutor_PacingPastDeadline(t *testing.T) {
	src := pricesource.NewStub(nil)
	exec := NewExecutor(ExecutorOptions{Source: src, PacingDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	start := domain.MustDate("2024-01-02")
	today := domain.MustDate("2024-01-08")

	_, err := exec.Fetch(ctx, "A", start, today)
	require.NoError(t, err)

	_, err = exec.Fetch(ctx, "B", start, today)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, ctx.Err(), "the deadline itself has not passed")
	assert.Len(t, src.Calls(), 1)
}
