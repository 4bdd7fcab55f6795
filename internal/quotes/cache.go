package quotes

import (
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
)

// DefaultCacheTTL is how long a resolved quote is served from memory.
const DefaultCacheTTL = 30 * time.Second

// QuoteRecord is a resolved quote as stored in the cache.
type QuoteRecord struct {
	Timestamp   time.Time   `json:"timestamp"`
	Bid         *float64    `json:"bid,omitempty"`
	Ask         *float64    `json:"ask,omitempty"`
	Last        *float64    `json:"last,omitempty"`
	Symbol      string      `json:"symbol"`
	PriceSource PriceSource `json:"price_source"`
	Endpoint    string      `json:"endpoint"`
	Price       float64     `json:"price"`
}

func newRecord(symbol, endpoint string, raw *broker.RawQuote, price float64, src PriceSource, now time.Time) QuoteRecord {
	return QuoteRecord{
		Symbol:      symbol,
		Price:       price,
		Bid:         raw.Bid,
		Ask:         raw.Ask,
		Last:        raw.Last,
		PriceSource: src,
		Endpoint:    endpoint,
		Timestamp:   now,
	}
}

// CacheEntry summarizes one cached quote for diagnostics.
type CacheEntry struct {
	Key         string      `json:"key"`
	Symbol      string      `json:"symbol"`
	PriceSource PriceSource `json:"price_source"`
	Price       float64     `json:"price"`
	AgeSeconds  float64     `json:"age_seconds"`
}

// Cache holds resolved quotes keyed by option symbol. Entries expire after the
// TTL and are dropped on the read that finds them stale.
type Cache struct {
	now   func() time.Time
	items map[string]QuoteRecord
	mu    sync.RWMutex
	ttl   time.Duration
}

// NewCache creates a quote cache. A non-positive ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		now:   time.Now,
		items: make(map[string]QuoteRecord),
		ttl:   ttl,
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) fresh(rec QuoteRecord, now time.Time) bool {
	return now.Sub(rec.Timestamp) < c.ttl
}

// Get returns the record for symbol if it is younger than the TTL.
func (c *Cache) Get(symbol string) (QuoteRecord, bool) {
	now := c.now()

	c.mu.RLock()
	rec, ok := c.items[symbol]
	c.mu.RUnlock()
	if !ok {
		return QuoteRecord{}, false
	}
	if c.fresh(rec, now) {
		return rec, true
	}

	c.mu.Lock()
	// Re-check under the write lock; a concurrent Put may have refreshed it.
	if cur, ok := c.items[symbol]; ok && !c.fresh(cur, now) {
		delete(c.items, symbol)
	}
	c.mu.Unlock()
	return QuoteRecord{}, false
}

// Put stores rec under symbol.
func (c *Cache) Put(symbol string, rec QuoteRecord) {
	c.mu.Lock()
	c.items[symbol] = rec
	c.mu.Unlock()
}

// EvictExpired removes every stale entry and returns how many were removed.
func (c *Cache) EvictExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, rec := range c.items {
		if !c.fresh(rec, now) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]QuoteRecord)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Entries lists the cached quotes, newest first.
func (c *Cache) Entries() []CacheEntry {
	now := c.now()
	c.mu.RLock()
	out := make([]CacheEntry, 0, len(c.items))
	for k, rec := range c.items {
		out = append(out, CacheEntry{
			Key:         k,
			Symbol:      rec.Symbol,
			Price:       rec.Price,
			PriceSource: rec.PriceSource,
			AgeSeconds:  now.Sub(rec.Timestamp).Seconds(),
		})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AgeSeconds == out[j].AgeSeconds {
			return out[i].Key < out[j].Key
		}
		return out[i].AgeSeconds < out[j].AgeSeconds
	})
	return out
}
