package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// Error taxonomy for quote resolution.
var (
	ErrInvalidParams       = errors.New("invalid parameters")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTimeout             = broker.ErrTimeout
	ErrNoQuoteData         = errors.New("no quote data")
	ErrNoPriceData         = errors.New("no usable bid, ask or last price")
	ErrNoWorkingSymbol     = errors.New("no working symbol format found")
)

// Error codes reported to API callers.
const (
	CodeInvalidParams       = "INVALID_PARAMS"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeNoWorkingSymbol     = "NO_WORKING_SYMBOL"
	CodeTimeout             = "TIMEOUT"
	CodeCanceled            = "CANCELED"
	CodeInternal            = "INTERNAL_ERROR"
)

// RateLimitError is returned when the local request budget is exhausted.
// No upstream call was made.
type RateLimitError struct {
	RetryAfter time.Duration
	Limit      int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: %d requests per window, retry after %v", ErrRateLimited, e.Limit, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Attempt records the outcome of one symbol on one endpoint.
type Attempt struct {
	Err      error  `json:"-"`
	Symbol   string `json:"symbol"`
	Endpoint string `json:"endpoint"`
}

// Message returns the attempt error text, or "" on success.
func (a Attempt) Message() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

// MarshalJSON includes the error text.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type alias struct {
		Symbol   string `json:"symbol"`
		Endpoint string `json:"endpoint"`
		Error    string `json:"error,omitempty"`
	}
	return json.Marshal(alias{Symbol: a.Symbol, Endpoint: a.Endpoint, Error: a.Message()})
}

// FallbackError carries every endpoint's failure for one symbol.
type FallbackError struct {
	Symbol   string
	Attempts []Attempt
}

func (e *FallbackError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Endpoint, a.Err))
	}
	return fmt.Sprintf("all endpoints failed for %s (%s)", e.Symbol, strings.Join(parts, "; "))
}

// Unwrap exposes each endpoint error to errors.Is/As.
func (e *FallbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// ResolveError is returned when no symbol variant on any endpoint produced a
// price. Reason is ErrNoWorkingSymbol when the upstream answered for at least
// one attempt, or ErrUpstreamUnavailable when it never did.
type ResolveError struct {
	Reason   error
	Key      models.OptionContractKey
	Symbols  []string
	Attempts []Attempt
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%v for %s (tried %s)", e.Reason, e.Key, strings.Join(e.Symbols, ", "))
}

func (e *ResolveError) Unwrap() error { return e.Reason }

// reachedUpstream reports whether err is an authoritative answer about the
// symbol rather than a failure to talk to the upstream.
func reachedUpstream(err error) bool {
	if errors.Is(err, ErrNoQuoteData) || errors.Is(err, ErrNoPriceData) {
		return true
	}
	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return true
		}
	}
	return false
}

// Code maps an error from this package to its API error code.
func Code(err error) string {
	var rl *RateLimitError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParams), errors.Is(err, models.ErrInvalidContract):
		return CodeInvalidParams
	case errors.As(err, &rl), errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrNoWorkingSymbol):
		return CodeNoWorkingSymbol
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
