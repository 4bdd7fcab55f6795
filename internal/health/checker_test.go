package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
)

type fakeAccounts struct {
	mu    sync.Mutex
	errs  []error // returned in order, then success
	delay time.Duration
	block bool
	calls int
}

func (f *fakeAccounts) GetAccount(ctx context.Context) (*broker.Account, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", broker.ErrTimeout, ctx.Err())
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", broker.ErrTimeout, ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return &broker.Account{ID: "acc-1", Status: "ACTIVE", BuyingPower: decimal.RequireFromString("1000.5")}, nil
}

func (f *fakeAccounts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestChecker(src broker.AccountSource, cfg Config) (*Checker, *clock) {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	c := NewChecker(src, cfg, l)
	clk := &clock{now: time.Date(2025, 1, 10, 15, 30, 0, 0, time.UTC)}
	c.now = clk.Now
	return c, clk
}

func TestNewChecker_Defaults(t *testing.T) {
	c := NewChecker(&fakeAccounts{}, Config{}, nil)
	assert.Equal(t, DefaultCacheTTL, c.cfg.CacheTTL)
	assert.Equal(t, DefaultMaxAttempts, c.cfg.MaxAttempts)
	assert.Equal(t, DefaultRetryDelay, c.cfg.RetryDelay)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
}

func TestTestConnection_SuccessIsCached(t *testing.T) {
	src := &fakeAccounts{}
	c, clk := newTestChecker(src, Config{})

	st := c.TestConnection(context.Background(), false)
	require.True(t, st.Connected)
	assert.Equal(t, "acc-1", st.AccountID)
	assert.Equal(t, "ACTIVE", st.AccountStatus)
	require.NotNil(t, st.BuyingPower)
	assert.Equal(t, "1000.5", st.BuyingPower.String())
	assert.False(t, st.Cached)
	assert.Equal(t, 1, st.Attempts)

	clk.Advance(59 * time.Second)
	st = c.TestConnection(context.Background(), false)
	assert.True(t, st.Cached)
	assert.True(t, c.Connected(context.Background()))
	assert.Equal(t, 1, src.count())

	clk.Advance(time.Second)
	st = c.TestConnection(context.Background(), false)
	assert.False(t, st.Cached, "60s old result must be refreshed")
	assert.Equal(t, 2, src.count())
}

func TestTestConnection_ForceBypassesCache(t *testing.T) {
	src := &fakeAccounts{}
	c, _ := newTestChecker(src, Config{})

	c.TestConnection(context.Background(), false)
	st := c.TestConnection(context.Background(), true)
	assert.False(t, st.Cached)
	assert.Equal(t, 2, src.count())
}

func TestTestConnection_RetriesTransientFailures(t *testing.T) {
	src := &fakeAccounts{errs: []error{
		errors.New("dial tcp: connection refused"),
		errors.New("503 service unavailable"),
	}}
	c, _ := newTestChecker(src, Config{})

	st := c.TestConnection(context.Background(), false)
	assert.True(t, st.Connected)
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, 3, src.count())
}

func TestTestConnection_GivesUpAfterMaxAttempts(t *testing.T) {
	src := &fakeAccounts{errs: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	c, _ := newTestChecker(src, Config{})

	st := c.TestConnection(context.Background(), false)
	assert.False(t, st.Connected)
	assert.Equal(t, 3, st.Attempts)
	assert.Contains(t, st.Error, "connection reset")
	assert.Equal(t, 3, src.count())

	// Failures are cached too.
	st = c.TestConnection(context.Background(), false)
	assert.True(t, st.Cached)
	assert.False(t, st.Connected)
	assert.Equal(t, 3, src.count())
}

func TestTestConnection_PermanentFailureNotRetried(t *testing.T) {
	src := &fakeAccounts{errs: []error{errors.New("request is not authorized")}}
	c, _ := newTestChecker(src, Config{})

	st := c.TestConnection(context.Background(), false)
	assert.False(t, st.Connected)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 1, src.count())
}

func TestTestConnection_PerAttemptTimeout(t *testing.T) {
	src := &fakeAccounts{block: true}
	c, _ := newTestChecker(src, Config{Timeout: 10 * time.Millisecond})

	start := time.Now()
	st := c.TestConnection(context.Background(), false)
	assert.False(t, st.Connected)
	assert.Equal(t, 3, src.count(), "timeouts are retried")
	assert.Contains(t, st.Error, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestClearCache(t *testing.T) {
	src := &fakeAccounts{}
	c, _ := newTestChecker(src, Config{})

	c.TestConnection(context.Background(), false)
	_, ok := c.Cached()
	require.True(t, ok)

	c.ClearCache()
	_, ok = c.Cached()
	assert.False(t, ok)

	c.TestConnection(context.Background(), false)
	assert.Equal(t, 2, src.count())
}

func TestTestConnection_WaiterTimeoutDoesNotFailSharedCheck(t *testing.T) {
	src := &fakeAccounts{delay: 100 * time.Millisecond}
	c, _ := newTestChecker(src, Config{})

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var short ConnectionState
	wg.Add(1)
	go func() {
		defer wg.Done()
		short = c.TestConnection(shortCtx, true)
	}()

	time.Sleep(5 * time.Millisecond)
	st := c.TestConnection(context.Background(), true)
	wg.Wait()

	assert.True(t, st.Connected, st.Error)
	assert.Equal(t, "acc-1", st.AccountID)
	assert.Equal(t, 1, src.count())

	assert.False(t, short.Connected)
	assert.Contains(t, short.Error, "abandoned")

	cached, ok := c.Cached()
	require.True(t, ok)
	assert.True(t, cached.Connected)
}
