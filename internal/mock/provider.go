// Package mock simulates the Alpaca market data and account endpoints so the
// service can run without credentials.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/util"
)

const minOptionPrice = 0.05

// DataProvider serves simulated option quotes and a paper account.
type DataProvider struct {
	prices      map[string]float64
	now         func() time.Time
	buyingPower decimal.Decimal
	midIV       float64 // annualized implied volatility, percent
	mu          sync.Mutex
}

var (
	_ broker.QuoteSource   = (*DataProvider)(nil)
	_ broker.AccountSource = (*DataProvider)(nil)
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

func NewDataProvider() *DataProvider {
	return &DataProvider{
		prices:      make(map[string]float64),
		now:         time.Now,
		buyingPower: decimal.NewFromInt(100000),
		midIV:       25.0 + secureFloat64()*20, // 25-45%
	}
}

// LatestOptionQuote returns a quote for any well-formed option symbol. Each
// call moves the price a little.
func (m *DataProvider) LatestOptionQuote(ctx context.Context, version, symbol string) (*broker.RawQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := quotes.ParseSymbol(symbol)
	if err != nil {
		return nil, &broker.APIError{Status: 400, Body: fmt.Sprintf("invalid symbol %q", symbol)}
	}

	m.mu.Lock()
	mid, ok := m.prices[symbol]
	if !ok {
		dte := key.Expiration.Sub(m.now()).Hours() / 24
		timeValue := math.Max(0, dte/365.0)
		// At-the-money approximation: 0.4 * S * sigma * sqrt(T)
		mid = 0.4 * key.Strike * (m.midIV / 100.0) * math.Sqrt(timeValue)
	} else {
		mid *= 1 + (secureFloat64()-0.5)*0.04
	}
	mid = math.Max(minOptionPrice, mid)
	m.prices[symbol] = mid
	m.mu.Unlock()

	tick := util.OptionTick(mid)
	bid := math.Max(0, util.RoundToTick(mid-tick, tick))
	ask := util.RoundToTick(mid+tick, tick)
	last := util.RoundToTick(mid, tick)
	return &broker.RawQuote{Bid: &bid, Ask: &ask, Last: &last}, nil
}

// GetAccount returns an always-active paper account.
func (m *DataProvider) GetAccount(ctx context.Context) (*broker.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &broker.Account{ID: "mock-account", Status: "ACTIVE", BuyingPower: m.buyingPower}, nil
}
