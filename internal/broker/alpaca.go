// Package broker provides the Alpaca API clients used to price option trades.
// It includes the market data quote client and the account client used for
// connection checks.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Default Alpaca hosts
const (
	DefaultDataURL         = "https://data.alpaca.markets"
	DefaultPaperTradingURL = "https://paper-api.alpaca.markets"
	DefaultLiveTradingURL  = "https://api.alpaca.markets"
)

// Market data API versions serving option quotes, in fallback order.
const (
	EndpointV1Beta1 = "v1beta1"
	EndpointV2      = "v2"
)

// DefaultQuoteTimeout is the hard cap on a single quote request.
const DefaultQuoteTimeout = 15 * time.Second

// ErrTimeout is returned when the upstream does not answer within the request timeout.
var ErrTimeout = errors.New("request timed out")

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=broker -destination=mock_http_client_test.go -source=alpaca.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AlpacaAPI is the market data client for option quotes.
type AlpacaAPI struct {
	client    HTTPClient
	logger    logrus.FieldLogger
	apiKey    string
	apiSecret string
	dataURL   string
	timeout   time.Duration
}

// NewAlpacaAPI creates a market data client. An empty dataURL selects the public data host.
func NewAlpacaAPI(apiKey, apiSecret, dataURL string) *AlpacaAPI {
	if dataURL == "" {
		dataURL = DefaultDataURL
	}
	return &AlpacaAPI{
		client:    &http.Client{},
		logger:    logrus.StandardLogger(),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		dataURL:   strings.TrimRight(dataURL, "/"),
		timeout:   DefaultQuoteTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (a *AlpacaAPI) WithHTTPClient(c HTTPClient) *AlpacaAPI {
	if c != nil {
		a.client = c
	}
	return a
}

// WithTimeout sets the per-request timeout. Non-positive values keep the default.
func (a *AlpacaAPI) WithTimeout(timeout time.Duration) *AlpacaAPI {
	if timeout > 0 {
		a.timeout = timeout
	}
	return a
}

// WithLogger sets the logger used for request diagnostics.
func (a *AlpacaAPI) WithLogger(logger logrus.FieldLogger) *AlpacaAPI {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// ============ Quote Response Structures ============

// RawQuote is a quote entry normalized to canonical field names.
// Nil fields were absent (or zero) upstream.
type RawQuote struct {
	Bid  *float64
	Ask  *float64
	Last *float64
}

// quoteFields accepts both the short (ap/bp) and long (ask/bid) field names
// the data API has been observed to return.
type quoteFields struct {
	AP   *float64 `json:"ap"`
	Ask  *float64 `json:"ask"`
	BP   *float64 `json:"bp"`
	Bid  *float64 `json:"bid"`
	Last *float64 `json:"last"`
	LP   *float64 `json:"lp"`
}

// LatestQuotesResponse is the body of /options/quotes/latest.
type LatestQuotesResponse struct {
	Quotes map[string]quoteFields `json:"quotes"`
}

func firstPositive(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil && *v > 0 {
			p := *v
			return &p
		}
	}
	return nil
}

func (q quoteFields) normalize() *RawQuote {
	return &RawQuote{
		Ask:  firstPositive(q.AP, q.Ask),
		Bid:  firstPositive(q.BP, q.Bid),
		Last: firstPositive(q.Last, q.LP),
	}
}

// LatestOptionQuote fetches the latest quote for one option symbol from the given
// API version. It returns (nil, nil) when the response has no entry for exactly
// that symbol.
func (a *AlpacaAPI) LatestOptionQuote(ctx context.Context, version, symbol string) (*RawQuote, error) {
	params := url.Values{}
	params.Add("symbols", symbol)
	endpoint := fmt.Sprintf("%s/%s/options/quotes/latest?%s", a.dataURL, version, params.Encode())

	var response LatestQuotesResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	q, ok := response.Quotes[symbol]
	if !ok {
		a.logger.WithFields(logrus.Fields{"symbol": symbol, "endpoint": version}).Debug("no quote entry for symbol")
		return nil, nil
	}
	return q.normalize(), nil
}

// makeRequestCtx makes an authenticated GET with a hard timeout and decodes the JSON body.
func (a *AlpacaAPI) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Add("APCA-API-KEY-ID", a.apiKey)
	req.Header.Add("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "wheel-tracker/1.0 (+alpaca)")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		if isTimeout(reqCtx, err) {
			return fmt.Errorf("%w: %s %s after %v", ErrTimeout, method, endpoint, a.timeout)
		}
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close response body")
		}
	}()

	a.logger.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"endpoint": endpoint,
		"elapsed":  time.Since(start),
	}).Debug("alpaca response")

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		if isTimeout(reqCtx, err) {
			return fmt.Errorf("%w: reading %s", ErrTimeout, endpoint)
		}
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
