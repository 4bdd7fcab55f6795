package quotes

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by cache, limiter and client.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var clockStart = time.Date(2025, 1, 10, 15, 30, 0, 0, time.UTC)

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := newFakeClock(clockStart)
	c := NewCache(ttl)
	c.now = clock.Now
	return c, clock
}

func record(symbol string, price float64, ts time.Time) QuoteRecord {
	return QuoteRecord{Symbol: symbol, Price: price, PriceSource: PriceSourceMid, Endpoint: "v1beta1", Timestamp: ts}
}

func TestNewCache_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultCacheTTL, NewCache(0).TTL())
	assert.Equal(t, 5*time.Second, NewCache(5*time.Second).TTL())
}

func TestCache_PutGetWithinTTL(t *testing.T) {
	c, clock := newTestCache(30 * time.Second)
	rec := record("AAPL250315P00180000", 1.10, clock.Now())
	c.Put(rec.Symbol, rec)

	clock.Advance(29 * time.Second)
	got, ok := c.Get(rec.Symbol)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestCache_ExpiredIsMissAndDropped(t *testing.T) {
	c, clock := newTestCache(30 * time.Second)
	rec := record("AAPL250315P00180000", 1.10, clock.Now())
	c.Put(rec.Symbol, rec)

	clock.Advance(30 * time.Second)
	_, ok := c.Get(rec.Symbol)
	assert.False(t, ok, "entry exactly TTL old must be a miss")
	assert.Equal(t, 0, c.Len(), "stale entry must be removed on read")
}

func TestCache_Miss(t *testing.T) {
	c, _ := newTestCache(30 * time.Second)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCache_EvictExpired(t *testing.T) {
	c, clock := newTestCache(30 * time.Second)
	c.Put("old1", record("old1", 1, clock.Now()))
	c.Put("old2", record("old2", 1, clock.Now()))
	clock.Advance(20 * time.Second)
	c.Put("new", record("new", 2, clock.Now()))
	clock.Advance(15 * time.Second)

	assert.Equal(t, 2, c.EvictExpired())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestCache_ClearAndEntries(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Put("a", record("a", 1, clock.Now()))
	clock.Advance(10 * time.Second)
	c.Put("b", record("b", 2, clock.Now()))
	clock.Advance(5 * time.Second)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Key, "newest first")
	assert.Equal(t, 5.0, entries[0].AgeSeconds)
	assert.Equal(t, "a", entries[1].Key)
	assert.Equal(t, 15.0, entries[1].AgeSeconds)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Entries())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Put(key, record(key, float64(i), clock.Now()))
			c.Get(key)
			c.EvictExpired()
			c.Entries()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
