package pricesource

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// barsClient is the part of marketdata.Client used here.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaConfig holds Alpaca market data credentials.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // optional data API override
	Feed      string // "sip" or "iex", default "iex"
}

// Alpaca fetches daily bars from the Alpaca market data API.
type Alpaca struct {
	client barsClient
	feed   marketdata.Feed
}

// NewAlpaca creates an Alpaca source.
func NewAlpaca(cfg AlpacaConfig) *Alpaca {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	return newAlpaca(marketdata.NewClient(opts), cfg.Feed)
}

func newAlpaca(client barsClient, feed string) *Alpaca {
	f := marketdata.Feed(feed)
	if feed == "" {
		f = marketdata.IEX
	}
	return &Alpaca{client: client, feed: f}
}

// Name returns the source identifier.
func (a *Alpaca) Name() string { return "alpaca" }

// Fetch retrieves daily bars in [req.Start, req.End). Alpaca's End is
// exclusive for daily bars. Bar timestamps are midnight America/New_York.
func (a *Alpaca) Fetch(ctx context.Context, req Request) ([]Bar, error) {
	if req.Days() == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := a.client.GetBars(req.Ticker, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Raw,
		Start:      req.Start,
		End:        req.End,
		Feed:       a.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars %s: %w", req.Ticker, err)
	}

	bars := make([]Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, Bar{
			Time:   b.Timestamp,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: float64(b.Volume),
		})
	}
	return bars, nil
}
