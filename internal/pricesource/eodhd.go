package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"stock-trend-lab/internal/domain"
)

const (
	// DefaultEODHDBaseURL is the base URL for the EODHD API.
	DefaultEODHDBaseURL = "https://eodhd.com/api"

	// DefaultTimeout bounds a single upstream call.
	DefaultTimeout = 30 * time.Second

	// DefaultEODHDExchange is appended to tickers ("AAPL" -> "AAPL.US").
	DefaultEODHDExchange = "US"
)

// EODHD fetches end-of-day bars from the EODHD API.
type EODHD struct {
	baseURL    string
	apiKey     string
	exchange   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// EODHDOption configures the EODHD client.
type EODHDOption func(*EODHD)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) EODHDOption {
	return func(c *EODHD) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) EODHDOption {
	return func(c *EODHD) {
		c.httpClient = httpClient
	}
}

// WithExchange sets the exchange suffix.
func WithExchange(exchange string) EODHDOption {
	return func(c *EODHD) {
		c.exchange = exchange
	}
}

// WithLogger sets a logger.
func WithLogger(logger zerolog.Logger) EODHDOption {
	return func(c *EODHD) {
		c.logger = logger
	}
}

// WithRateLimit caps the client's own request rate. Zero disables.
func WithRateLimit(requestsPerSecond float64) EODHDOption {
	return func(c *EODHD) {
		if requestsPerSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
}

// NewEODHD creates a new EODHD client.
func NewEODHD(apiKey string, opts ...EODHDOption) *EODHD {
	c := &EODHD{
		baseURL:  DefaultEODHDBaseURL,
		apiKey:   apiKey,
		exchange: DefaultEODHDExchange,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the source identifier.
func (c *EODHD) Name() string { return "eodhd" }

// eodBar is one row of the /eod response.
type eodBar struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume json.Number     `json:"volume"`
}

// Symbol returns the EODHD symbol of a ticker. Class separators become
// dashes ("BRK.B" -> "BRK-B.US").
func (c *EODHD) Symbol(ticker string) string {
	return strings.ReplaceAll(ticker, ".", "-") + "." + c.exchange
}

// Fetch retrieves daily bars in [req.Start, req.End).
func (c *EODHD) Fetch(ctx context.Context, req Request) ([]Bar, error) {
	if req.Days() == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("from", domain.FormatDate(req.Start))
	// EODHD "to" is inclusive.
	params.Set("to", domain.FormatDate(req.End.AddDate(0, 0, -1)))
	params.Set("period", "d")
	params.Set("order", "a")

	var rows []eodBar
	if err := c.get(ctx, "/eod/"+c.Symbol(req.Ticker), params, &rows); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		date, err := domain.ParseDate(row.Date)
		if err != nil {
			return nil, &DecodeError{Source: c.Name(), Err: err}
		}
		var volume float64
		if row.Volume != "" {
			volume, err = strconv.ParseFloat(row.Volume.String(), 64)
			if err != nil {
				return nil, &DecodeError{Source: c.Name(), Err: fmt.Errorf("volume %q: %w", row.Volume, err)}
			}
		}
		bars = append(bars, Bar{
			Time:   date,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: volume,
		})
	}
	return bars, nil
}

// get performs a GET request to the API.
func (c *EODHD) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("eodhd request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Source: c.Name(), RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Source:     c.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &DecodeError{Source: c.Name(), Err: err}
	}
	return nil
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
