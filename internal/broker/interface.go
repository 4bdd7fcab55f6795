package broker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// QuoteSource fetches raw option quotes from one market data API version.
type QuoteSource interface {
	// LatestOptionQuote returns (nil, nil) when the upstream has no entry for symbol.
	LatestOptionQuote(ctx context.Context, version, symbol string) (*RawQuote, error)
}

// AccountSource reports the state of the trading account behind the credentials.
type AccountSource interface {
	GetAccount(ctx context.Context) (*Account, error)
}

// Ensure implementations satisfy the interfaces at compile time.
var (
	_ QuoteSource   = (*AlpacaAPI)(nil)
	_ QuoteSource   = (*CircuitBreakerSource)(nil)
	_ AccountSource = (*AccountClient)(nil)
)

// IsPermanentAPIError reports 4xx responses other than 429. They describe the
// request (unknown symbol, bad credentials), not the health of the upstream.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
	}
	return false
}

// CircuitBreakerSource wraps a QuoteSource with circuit breaker functionality
type CircuitBreakerSource struct {
	source  QuoteSource
	breaker *gobreaker.CircuitBreaker
}

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	fn func() (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	Logger       logrus.FieldLogger
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	FailureRatio float64       // Failure ratio threshold
	MaxRequests  uint32        // Max requests when half-open
	MinRequests  uint32        // Min requests before tripping
}

// DefaultCircuitBreakerSettings trips after 60% failures over at least 5 requests in a minute.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerSource creates a CircuitBreakerSource with default settings
func NewCircuitBreakerSource(source QuoteSource) *CircuitBreakerSource {
	return NewCircuitBreakerSourceWithSettings(source, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerSourceWithSettings creates a CircuitBreakerSource with custom settings
func NewCircuitBreakerSourceWithSettings(source QuoteSource, settings CircuitBreakerSettings) *CircuitBreakerSource {
	logger := settings.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "AlpacaQuoteCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanentAPIError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// LatestOptionQuote wraps the underlying source call with circuit breaker
func (c *CircuitBreakerSource) LatestOptionQuote(ctx context.Context, version, symbol string) (*RawQuote, error) {
	return execCircuitBreaker(c.breaker, func() (*RawQuote, error) {
		return c.source.LatestOptionQuote(ctx, version, symbol)
	})
}

// State returns the current breaker state.
func (c *CircuitBreakerSource) State() gobreaker.State {
	return c.breaker.State()
}
