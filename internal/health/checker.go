// Package health caches whether the Alpaca credentials can reach the trading API.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/retry"
)

// Defaults for connection checks.
const (
	DefaultCacheTTL    = 60 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 1200 * time.Millisecond
	DefaultTimeout     = 10 * time.Second
)

// Config tunes a Checker. Zero values select the defaults.
type Config struct {
	CacheTTL    time.Duration
	RetryDelay  time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// ConnectionState is the outcome of the last connection check.
type ConnectionState struct {
	LastChecked   time.Time        `json:"last_checked"`
	BuyingPower   *decimal.Decimal `json:"buying_power,omitempty"`
	AccountID     string           `json:"account_id,omitempty"`
	AccountStatus string           `json:"account_status,omitempty"`
	Error         string           `json:"error,omitempty"`
	Attempts      int              `json:"attempts"`
	Connected     bool             `json:"connected"`
	Cached        bool             `json:"cached"`
}

// Checker tests the account endpoint and caches the result.
type Checker struct {
	source broker.AccountSource
	logger logrus.FieldLogger
	now    func() time.Time
	state  *ConnectionState
	group  singleflight.Group
	policy retry.Policy
	cfg    Config
	mu     sync.Mutex
}

// NewChecker creates a connection checker over source.
func NewChecker(source broker.AccountSource, cfg Config, logger logrus.FieldLogger) *Checker {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Checker{
		source: source,
		logger: logger.WithField("component", "health"),
		now:    time.Now,
		policy: retry.FixedPolicy(cfg.MaxAttempts, cfg.RetryDelay),
		cfg:    cfg,
	}
}

// TestConnection returns the cached state if it is younger than the TTL,
// otherwise checks the account endpoint with retries. force skips the cache.
func (c *Checker) TestConnection(ctx context.Context, force bool) ConnectionState {
	if !force {
		if st, ok := c.Cached(); ok {
			return st
		}
	}

	// The shared check outlives any one caller so a caller that gives up
	// does not fail the others waiting on it.
	ch := c.group.DoChan("account", func() (interface{}, error) {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.checkBudget())
		defer cancel()
		return c.check(checkCtx), nil
	})

	select {
	case <-ctx.Done():
		return ConnectionState{
			LastChecked: c.now(),
			Error:       fmt.Sprintf("connection check abandoned: %v", ctx.Err()),
		}
	case res := <-ch:
		return res.Val.(ConnectionState)
	}
}

// checkBudget bounds one full retried check, with one attempt of slack.
func (c *Checker) checkBudget() time.Duration {
	return time.Duration(c.cfg.MaxAttempts+1) * (c.cfg.Timeout + c.cfg.RetryDelay)
}

// Connected is TestConnection reduced to a boolean.
func (c *Checker) Connected(ctx context.Context) bool {
	return c.TestConnection(ctx, false).Connected
}

// Cached returns the last state while it is fresh.
func (c *Checker) Cached() (ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil || c.now().Sub(c.state.LastChecked) >= c.cfg.CacheTTL {
		return ConnectionState{}, false
	}
	st := *c.state
	st.Cached = true
	return st, true
}

// ClearCache forgets the last result.
func (c *Checker) ClearCache() {
	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()
	c.logger.Info("connection cache cleared")
}

func (c *Checker) check(ctx context.Context) ConnectionState {
	var attempts int
	acct, err := retry.Do(ctx, c.policy, c.logger, "account check",
		func(ctx context.Context, attempt int) (*broker.Account, error) {
			attempts = attempt
			attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
			return c.source.GetAccount(attemptCtx)
		})

	st := ConnectionState{LastChecked: c.now(), Attempts: attempts}
	if err != nil {
		st.Error = err.Error()
		c.logger.WithError(err).WithField("attempts", attempts).Warn("alpaca connection check failed")
	} else {
		bp := acct.BuyingPower
		st.Connected = true
		st.AccountID = acct.ID
		st.AccountStatus = acct.Status
		st.BuyingPower = &bp
		c.logger.WithFields(logrus.Fields{
			"account_id": acct.ID,
			"status":     acct.Status,
			"attempts":   attempts,
		}).Info("alpaca connection ok")
	}

	c.mu.Lock()
	c.state = &st
	c.mu.Unlock()
	return st
}
