// Package market provides the quote client for the market-data provider and
// a Redis cache in front of it with regime-dependent TTLs.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrUpstreamUnavailable is returned when the market-data provider cannot be
// reached or keeps failing. The pipeline aborts on it.
var ErrUpstreamUnavailable = errors.New("market data upstream unavailable")

// maxRecentCloses bounds the price window regardless of what the provider
// returns.
const maxRecentCloses = 50

const (
	defaultTimeout    = 4 * time.Second
	defaultMaxRetries = 3

	poolMaxConnsPerHost = 500
	poolIdleTimeout     = 45 * time.Second
)

// Quote is the provider's answer for one symbol. RecentClosingPrices is
// newest-first and never longer than maxRecentCloses.
type Quote struct {
	Symbol              string    `json:"symbol"`
	LatestClose         float64   `json:"latest_close"`
	Open                float64   `json:"open"`
	High                float64   `json:"high"`
	Low                 float64   `json:"low"`
	Volume              float64   `json:"volume"`
	RecentClosingPrices []float64 `json:"recent_closing_prices"`
	FetchedAt           time.Time `json:"fetched_at"`
}

// Client talks to the market-data provider over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     zerolog.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client, used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries overrides the retry budget for 5xx responses.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient creates a market-data client. ratePerSec bounds outbound request
// rate; zero disables the limiter.
func NewClient(baseURL string, timeout time.Duration, ratePerSec float64, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("market data base URL is required")
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        poolMaxConnsPerHost,
				MaxIdleConnsPerHost: poolMaxConnsPerHost,
				MaxConnsPerHost:     poolMaxConnsPerHost,
				IdleConnTimeout:     poolIdleTimeout,
			},
		},
		maxRetries: defaultMaxRetries,
		logger:     log.With().Str("component", "market-client").Logger(),
	}
	if ratePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchQuote retrieves the latest quote and recent closes for a symbol.
// Retries with exponential backoff on 5xx and transport errors; any final
// failure is reported as ErrUpstreamUnavailable.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
	}

	url := fmt.Sprintf("%s/quotes/%s", c.baseURL, symbol)

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		quote, retryable, err := c.fetchOnce(ctx, url)
		if err == nil {
			return quote, nil
		}
		lastErr = err
		if !retryable {
			break
		}

		c.logger.Warn().
			Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Msg("Market data fetch failed, backing off")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// fetchOnce performs a single GET. The bool reports whether the failure is
// worth retrying.
func (c *Client) fetchOnce(ctx context.Context, url string) (*Quote, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("provider returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, false, fmt.Errorf("decode quote: %w", err)
	}
	if len(quote.RecentClosingPrices) > maxRecentCloses {
		quote.RecentClosingPrices = quote.RecentClosingPrices[:maxRecentCloses]
	}
	if quote.FetchedAt.IsZero() {
		quote.FetchedAt = time.Now()
	}
	return &quote, false, nil
}
