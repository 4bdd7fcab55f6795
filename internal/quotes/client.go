// Package quotes resolves option contracts to live prices. It derives the
// broker symbol for a contract, tries every strike encoding against the market
// data endpoints in a fixed order, reconciles bid/ask/last into one price and
// keeps the results in a short-lived cache behind a sliding-window rate limit.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// DefaultEndpoints is the endpoint fallback order.
var DefaultEndpoints = []string{broker.EndpointV1Beta1, broker.EndpointV2}

// DefaultResolveTimeout bounds one shared resolution across all variants and endpoints.
const DefaultResolveTimeout = 2 * time.Minute

// Config tunes a Client. Zero values select the defaults.
type Config struct {
	Endpoints      []string
	CacheTTL       time.Duration
	RateWindow     time.Duration
	ResolveTimeout time.Duration
	RateLimit      int
}

// Quote is the result of resolving one contract or symbol.
type Quote struct {
	QuoteRecord
	Spread *float64 `json:"spread,omitempty"`
	// Variant is the 1-based position of Symbol in the strike-encoding trial
	// order, or 0 when the symbol was given directly.
	Variant    int       `json:"variant"`
	Cached     bool      `json:"cached"`
	AgeSeconds float64   `json:"age_seconds"`
	Attempts   []Attempt `json:"attempts,omitempty"`
}

// CacheStats describes the quote cache and rate window.
type CacheStats struct {
	Entries    []CacheEntry `json:"entries"`
	RateLimit  RateUsage    `json:"rate_limit"`
	Size       int          `json:"size"`
	TTLSeconds float64      `json:"ttl_seconds"`
}

// Client owns the quote cache and rate window for one process.
type Client struct {
	source    broker.QuoteSource
	cache     *Cache
	limiter   *RateLimiter
	logger    logrus.FieldLogger
	now       func() time.Time
	group     singleflight.Group
	endpoints []string
	timeout   time.Duration
}

// NewClient creates a quote client reading from source.
func NewClient(source broker.QuoteSource, cfg Config, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	return &Client{
		source:    source,
		cache:     NewCache(cfg.CacheTTL),
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:    logger.WithField("component", "quotes"),
		now:       time.Now,
		endpoints: append([]string(nil), endpoints...),
		timeout:   cfg.ResolveTimeout,
	}
}

// setClock points the client, its cache and its limiter at one clock.
func (c *Client) setClock(now func() time.Time) {
	c.now = now
	c.cache.now = now
	c.limiter.now = now
}

// ResolveQuote returns the current price for key. Within the cache TTL the
// cached record is returned without touching the upstream or the rate budget.
func (c *Client) ResolveQuote(ctx context.Context, key models.OptionContractKey) (*Quote, error) {
	if err := key.Validate(c.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	key = key.Normalize()
	canonical := FormatSymbol(key)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolving %s: %w", key, err)
	}

	c.cache.EvictExpired()
	if q, ok := c.cached(canonical); ok {
		return q, nil
	}

	return c.shared(ctx, canonical, func(workCtx context.Context) (*Quote, error) {
		if q, ok := c.cached(canonical); ok {
			return q, nil
		}
		return c.resolveUncached(workCtx, key, canonical)
	})
}

// shared runs fn once per symbol across concurrent callers. fn runs under a
// context detached from any single caller and bounded by the resolve timeout,
// so one caller leaving never fails the others. Each caller waits only as
// long as its own ctx allows.
func (c *Client) shared(ctx context.Context, symbol string, fn func(context.Context) (*Quote, error)) (*Quote, error) {
	ch := c.group.DoChan(symbol, func() (interface{}, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(workCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", symbol, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.WithField("symbol", symbol).Debug("shared in-flight quote resolution")
		}
		q := *res.Val.(*Quote)
		return &q, nil
	}
}

func (c *Client) cached(symbol string) (*Quote, bool) {
	rec, ok := c.cache.Get(symbol)
	if !ok {
		return nil, false
	}
	return &Quote{
		QuoteRecord: rec,
		Spread:      spread(rec.Bid, rec.Ask),
		Cached:      true,
		AgeSeconds:  c.now().Sub(rec.Timestamp).Seconds(),
	}, true
}

func (c *Client) acquire() error {
	if c.limiter.TryAcquire() {
		return nil
	}
	c.logger.WithField("limit", c.limiter.Limit()).Warn("quote rate limit reached")
	return &RateLimitError{RetryAfter: c.limiter.RetryAfter(), Limit: c.limiter.Limit()}
}

func (c *Client) resolveUncached(ctx context.Context, key models.OptionContractKey, canonical string) (*Quote, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}

	variants := FormatSymbolVariants(key)
	log := c.logger.WithFields(logrus.Fields{"contract": key.String(), "variants": len(variants)})

	var attempts []Attempt
	for i, symbol := range variants {
		rec, tried, err := c.fetchWithFallback(ctx, symbol)
		attempts = append(attempts, tried...)
		if err == nil {
			c.cache.Put(canonical, rec)
			if symbol != canonical {
				c.cache.Put(symbol, rec)
				log.WithFields(logrus.Fields{"symbol": symbol, "variant": i + 1}).Info("resolved with alternate strike encoding")
			}
			return &Quote{
				QuoteRecord: rec,
				Spread:      spread(rec.Bid, rec.Ask),
				Variant:     i + 1,
				Attempts:    attempts,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("resolving %s: %w: %w", key, ErrTimeout, ctxErr)
		}
		log.WithField("symbol", symbol).WithError(err).Debug("symbol variant failed")
	}

	resolveErr := &ResolveError{
		Reason:   classify(attempts),
		Key:      key,
		Symbols:  variants,
		Attempts: attempts,
	}
	log.WithError(resolveErr).Warn("could not resolve option price")
	return nil, resolveErr
}

// ResolveSymbol prices an option symbol exactly as given, against every endpoint.
func (c *Client) ResolveSymbol(ctx context.Context, symbol string) (*Quote, error) {
	key, err := ParseSymbol(symbol)
	if err != nil {
		return nil, err
	}
	symbol = FormatSymbol(key)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolving %s: %w", symbol, err)
	}

	c.cache.EvictExpired()
	if q, ok := c.cached(symbol); ok {
		return q, nil
	}

	return c.shared(ctx, symbol, func(workCtx context.Context) (*Quote, error) {
		if q, ok := c.cached(symbol); ok {
			return q, nil
		}
		if err := c.acquire(); err != nil {
			return nil, err
		}
		rec, attempts, err := c.fetchWithFallback(workCtx, symbol)
		if err != nil {
			return nil, &ResolveError{
				Reason:   classify(attempts),
				Key:      key,
				Symbols:  []string{symbol},
				Attempts: attempts,
			}
		}
		c.cache.Put(symbol, rec)
		return &Quote{QuoteRecord: rec, Spread: spread(rec.Bid, rec.Ask), Attempts: attempts}, nil
	})
}

// fetchWithFallback tries symbol on each endpoint in order and stops at the
// first one that yields a price. An entry without any usable price ends the
// search for this symbol.
func (c *Client) fetchWithFallback(ctx context.Context, symbol string) (QuoteRecord, []Attempt, error) {
	attempts := make([]Attempt, 0, len(c.endpoints))

	for _, endpoint := range c.endpoints {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Symbol: symbol, Endpoint: endpoint, Err: err})
			break
		}

		raw, err := c.source.LatestOptionQuote(ctx, endpoint, symbol)
		if err == nil && raw == nil {
			err = ErrNoQuoteData
		}
		if err != nil {
			attempts = append(attempts, Attempt{Symbol: symbol, Endpoint: endpoint, Err: err})
			continue
		}

		price, src, err := ResolvePrice(raw.Bid, raw.Ask, raw.Last)
		if err != nil {
			attempts = append(attempts, Attempt{Symbol: symbol, Endpoint: endpoint, Err: err})
			return QuoteRecord{}, attempts, &FallbackError{Symbol: symbol, Attempts: attempts}
		}

		attempts = append(attempts, Attempt{Symbol: symbol, Endpoint: endpoint})
		c.logger.WithFields(logrus.Fields{
			"symbol":   symbol,
			"endpoint": endpoint,
			"price":    price,
			"source":   src,
		}).Debug("quote resolved")
		return newRecord(symbol, endpoint, raw, price, src, c.now()), attempts, nil
	}

	return QuoteRecord{}, attempts, &FallbackError{Symbol: symbol, Attempts: attempts}
}

// classify picks the failure reason for a resolution that produced no price.
func classify(attempts []Attempt) error {
	for _, a := range attempts {
		if a.Err != nil && reachedUpstream(a.Err) {
			return ErrNoWorkingSymbol
		}
	}
	return ErrUpstreamUnavailable
}

// ClearCache drops every cached quote and resets the rate window.
func (c *Client) ClearCache() {
	c.cache.Clear()
	c.limiter.Reset()
	c.logger.Info("quote cache and rate window cleared")
}

// Stats reports cache contents and rate-limit usage.
func (c *Client) Stats() CacheStats {
	c.cache.EvictExpired()
	return CacheStats{
		Size:       c.cache.Len(),
		TTLSeconds: c.cache.TTL().Seconds(),
		Entries:    c.cache.Entries(),
		RateLimit:  c.limiter.Usage(),
	}
}

// IsResolveFailure reports whether err means the contract could not be priced,
// as opposed to bad input or a local limit.
func IsResolveFailure(err error) bool {
	var re *ResolveError
	return errors.As(err, &re)
}
