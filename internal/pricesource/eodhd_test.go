package pricesource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trend-lab/internal/domain"
)

func newTestEODHD(t *testing.T, handler http.HandlerFunc) *EODHD {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewEODHD("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestEODHD_Fetch(t *testing.T) {
	var gotPath, gotFrom, gotTo, gotToken string
	client := newTestEODHD(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		gotToken = r.URL.Query().Get("api_token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"date":"2024-01-08","open":182.09,"high":185.6,"low":181.5,"close":185.56,"adjusted_close":185.1,"volume":59144500},
			{"date":"2024-01-09","open":183.92,"high":185.15,"low":182.73,"close":185.14,"adjusted_close":184.7,"volume":42841800.0}
		]`))
	})

	bars, err := client.Fetch(context.Background(), Request{
		Ticker: "AAPL",
		Start:  domain.MustDate("2024-01-06"),
		End:    domain.MustDate("2024-01-10"),
	})
	require.NoError(t, err)

	assert.Equal(t, "/eod/AAPL.US", gotPath)
	assert.Equal(t, "2024-01-06", gotFrom)
	assert.Equal(t, "2024-01-09", gotTo, "end is exclusive")
	assert.Equal(t, "test-key", gotToken)

	require.Len(t, bars, 2)
	assert.Equal(t, domain.MustDate("2024-01-08"), bars[0].Time)
	assert.True(t, bars[0].Close.Equal(decimal.RequireFromString("185.56")))
	assert.Equal(t, 42841800.0, bars[1].Volume)
}

func TestEODHD_Symbol(t *testing.T) {
	c := NewEODHD("k")
	assert.Equal(t, "BRK-B.US", c.Symbol("BRK.B"))
	assert.Equal(t, "SHOP.TO", NewEODHD("k", WithExchange("TO")).Symbol("SHOP"))
}

func TestEODHD_EmptyRangeSkipsCall(t *testing.T) {
	called := false
	client := newTestEODHD(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	bars, err := client.Fetch(context.Background(), Request{
		Ticker: "AAPL",
		Start:  domain.MustDate("2024-01-06"),
		End:    domain.MustDate("2024-01-06"),
	})
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.False(t, called)
}

func TestEODHD_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.FailureKind
	}{
		{"not found", http.StatusNotFound, "Ticker Not Found.", domain.FailureNotFound},
		{"rate limited", http.StatusTooManyRequests, "", domain.FailureRateLimit},
		{"server error", http.StatusBadGateway, "bad gateway", domain.FailureTransient},
		{"malformed body", http.StatusOK, `{"error":"oops"`, domain.FailureParse},
		{"bad date", http.StatusOK, `[{"date":"01/08/2024","close":1}]`, domain.FailureParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestEODHD(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Fetch(context.Background(), Request{
				Ticker: "AAPL",
				Start:  domain.MustDate("2024-01-01"),
				End:    domain.MustDate("2024-02-01"),
			})
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestEODHD_RateLimitRetryAfter(t *testing.T) {
	client := newTestEODHD(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Fetch(context.Background(), Request{
		Ticker: "AAPL",
		Start:  domain.MustDate("2024-01-01"),
		End:    domain.MustDate("2024-02-01"),
	})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "eodhd", rl.Source)
	assert.EqualValues(t, 30e9, rl.RetryAfter)
}
