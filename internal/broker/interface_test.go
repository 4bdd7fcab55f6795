package broker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

// mockSource fails every call after failAfter calls when shouldFail is set.
type mockSource struct {
	mu         sync.Mutex
	callCount  int
	failAfter  int
	shouldFail bool
	failWith   error
}

func (m *mockSource) LatestOptionQuote(_ context.Context, _, _ string) (*RawQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.shouldFail && m.callCount > m.failAfter {
		if m.failWith != nil {
			return nil, m.failWith
		}
		return nil, errors.New("mock source error")
	}
	bid, ask := 1.0, 1.2
	return &RawQuote{Bid: &bid, Ask: &ask}, nil
}

func (m *mockSource) setFail(v bool) {
	m.mu.Lock()
	m.shouldFail = v
	m.mu.Unlock()
}

func callQuote(cb *CircuitBreakerSource) (*RawQuote, error) {
	return cb.LatestOptionQuote(context.Background(), EndpointV1Beta1, "SPY250321P00500000")
}

func TestIsPermanentAPIError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&APIError{Status: http.StatusBadRequest}, true},
		{&APIError{Status: http.StatusNotFound}, true},
		{&APIError{Status: http.StatusUnprocessableEntity}, true},
		{&APIError{Status: http.StatusTooManyRequests}, false},
		{&APIError{Status: http.StatusBadGateway}, false},
		{ErrTimeout, false},
		{errors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsPermanentAPIError(tt.err); got != tt.want {
			t.Errorf("IsPermanentAPIError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewCircuitBreakerSource(t *testing.T) {
	src := &mockSource{}
	cb := NewCircuitBreakerSource(src)

	if cb == nil {
		t.Fatal("NewCircuitBreakerSource returned nil")
	}
	if cb.source != src {
		t.Error("CircuitBreakerSource.source not set correctly")
	}
	if cb.breaker == nil {
		t.Error("CircuitBreakerSource.breaker not initialized")
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("new breaker state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerSource_SuccessfulCalls(t *testing.T) {
	cb := NewCircuitBreakerSource(&mockSource{})

	q, err := callQuote(cb)
	if err != nil {
		t.Fatalf("LatestOptionQuote failed: %v", err)
	}
	if q == nil || *q.Bid != 1.0 || *q.Ask != 1.2 {
		t.Errorf("LatestOptionQuote returned %+v", q)
	}
}

func TestCircuitBreakerSource_NilQuotePassesThrough(t *testing.T) {
	cb := NewCircuitBreakerSource(sourceFunc(func() (*RawQuote, error) { return nil, nil }))
	q, err := callQuote(cb)
	if err != nil || q != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", q, err)
	}
}

type sourceFunc func() (*RawQuote, error)

func (f sourceFunc) LatestOptionQuote(context.Context, string, string) (*RawQuote, error) {
	return f()
}

func TestCircuitBreakerSource_FailureScenarios(t *testing.T) {
	src := &mockSource{shouldFail: true, failAfter: 3}
	testSettings := CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     10 * time.Millisecond,
		Timeout:      20 * time.Millisecond,
		MinRequests:  1,
		FailureRatio: 0.5,
	}
	cb := NewCircuitBreakerSourceWithSettings(src, testSettings)

	for i := 0; i < 8; i++ {
		_, err := callQuote(cb)
		if i < 3 {
			if err != nil {
				t.Errorf("Call %d should succeed but failed: %v", i+1, err)
			}
		} else if err == nil {
			t.Errorf("Call %d should fail but succeeded", i+1)
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Errorf("Circuit breaker should be open, but state is %s", cb.State())
	}
}

func TestCircuitBreakerSource_PermanentErrorsDoNotTrip(t *testing.T) {
	src := &mockSource{shouldFail: true, failWith: &APIError{Status: http.StatusNotFound, Body: "not found"}}
	cb := NewCircuitBreakerSourceWithSettings(src, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  1,
		FailureRatio: 0.5,
	})

	for i := 0; i < 10; i++ {
		_, err := callQuote(cb)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("call %d: expected APIError to pass through, got %v", i+1, err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("404s tripped the breaker: state %s", cb.State())
	}
}

func TestCircuitBreakerSource_RecoveryBehavior(t *testing.T) {
	src := &mockSource{shouldFail: true, failAfter: 3}
	fastSettings := CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Millisecond,
		Timeout:      15 * time.Millisecond,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
	cb := NewCircuitBreakerSourceWithSettings(src, fastSettings)

	for i := 0; i < 8; i++ {
		_, _ = callQuote(cb)
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("Circuit breaker should be open, but state is %s", cb.State())
	}

	// Poll for state transition instead of fixed sleep
	deadline := time.Now().Add(100 * time.Millisecond)
	for cb.State() != gobreaker.StateHalfOpen {
		if time.Now().After(deadline) {
			t.Fatalf("Circuit breaker did not transition to half-open within timeout")
		}
		time.Sleep(time.Millisecond)
	}

	src.setFail(false)
	for i := 0; i < 3; i++ {
		if _, err := callQuote(cb); err != nil {
			t.Errorf("Call %d after recovery should succeed but failed: %v", i+1, err)
		}
	}

	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("Circuit breaker should be closed after recovery, state %s", cb.State())
	}
}

func TestCircuitBreakerSource_OpenStateError(t *testing.T) {
	src := &mockSource{shouldFail: true, failAfter: 0}
	testSettings := CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
		MinRequests:  1,
		FailureRatio: 0.5,
	}
	cb := NewCircuitBreakerSourceWithSettings(src, testSettings)

	for i := 0; i < 8; i++ {
		_, _ = callQuote(cb)
	}

	_, err := callQuote(cb)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected gobreaker.ErrOpenState but got: %v", err)
	}
}
