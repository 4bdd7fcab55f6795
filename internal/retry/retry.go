// Package retry runs an operation under an explicit attempt/backoff policy.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy describes how many times an operation runs and how long to wait between runs.
type Policy struct {
	// Retryable decides whether err warrants another attempt. Nil means IsTransientError.
	Retryable      func(err error) bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Multiplier grows the backoff after each failed attempt. 1 keeps it fixed.
	Multiplier float64
	Jitter     bool
}

// DefaultPolicy is exponential backoff with jitter.
var DefaultPolicy = Policy{
	MaxAttempts:    4,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Multiplier:     1.5,
	Jitter:         true,
}

// FixedPolicy waits the same delay between each of attempts tries.
func FixedPolicy(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: delay,
		MaxBackoff:     delay,
		Multiplier:     1,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Retryable == nil {
		p.Retryable = IsTransientError
	}
	return p
}

// NextBackoff grows current by the multiplier, caps it at MaxBackoff and adds
// up to a quarter of the result as jitter when enabled.
func (p Policy) NextBackoff(current time.Duration) time.Duration {
	p = p.normalized()
	backoff := time.Duration(float64(current) * p.Multiplier)
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	if !p.Jitter {
		return backoff
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// ExhaustedError is returned when every attempt failed or the error was not retryable.
type ExhaustedError struct {
	Err      error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d attempt(s) failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a non-retryable error, the policy runs
// out of attempts, or ctx ends. attempt is 1-based.
func Do[T any](
	ctx context.Context,
	p Policy,
	logger logrus.FieldLogger,
	op string,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, error) {
	var zero T
	p = p.normalized()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, &ExhaustedError{Err: lastErr, Attempts: attempt - 1}
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Info("succeeded after retry")
			}
			return v, nil
		}
		lastErr = err

		log := logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"max":     p.MaxAttempts,
		}).WithError(err)

		if !p.Retryable(err) || attempt == p.MaxAttempts {
			log.Warn("giving up")
			return zero, &ExhaustedError{Err: err, Attempts: attempt}
		}

		log.WithField("backoff", backoff).Debug("transient error, retrying")
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = p.NextBackoff(backoff)
		case <-ctx.Done():
			timer.Stop()
			return zero, &ExhaustedError{Err: lastErr, Attempts: attempt}
		}
	}

	return zero, &ExhaustedError{Err: lastErr, Attempts: p.MaxAttempts}
}

var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporary failure",
	"server error",
	"rate limit",
	"429", // HTTP 429 Too Many Requests
	"502", // HTTP 502 Bad Gateway
	"503", // HTTP 503 Service Unavailable
	"504", // HTTP 504 Gateway Timeout
	"network",
	"dns",
	"tcp",
	"eof",
}

// IsTransientError reports whether err looks like a network blip or an
// overloaded upstream rather than a rejected request.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
