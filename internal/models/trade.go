package models

import (
	"fmt"
	"strings"
	"time"
)

const sharesPerContract = 100.0

// TradeStatus is the lifecycle state of a recorded trade.
type TradeStatus string

const (
	// TradeOpen is a sold option that is still outstanding
	TradeOpen TradeStatus = "open"
	// TradeClosed was bought back
	TradeClosed TradeStatus = "closed"
	// TradeExpired expired worthless
	TradeExpired TradeStatus = "expired"
	// TradeAssigned was exercised against the seller
	TradeAssigned TradeStatus = "assigned"
)

// Valid returns true if the TradeStatus is one of the defined constants
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeOpen, TradeClosed, TradeExpired, TradeAssigned:
		return true
	default:
		return false
	}
}

// Trade is a short option sold as part of a wheel.
type Trade struct {
	ID                 string      `json:"id"`
	Underlying         string      `json:"underlying"`
	OptionType         OptionType  `json:"option_type"`
	Status             TradeStatus `json:"status"`
	PriceSource        string      `json:"price_source,omitempty"`
	ExpirationDate     time.Time   `json:"expiration_date"`
	DateSold           time.Time   `json:"date_sold"`
	LastPriceUpdate    time.Time   `json:"last_price_update,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	StrikePrice        float64     `json:"strike_price"`
	PremiumReceived    float64     `json:"premium_received"`
	CurrentOptionPrice float64     `json:"current_option_price"`
	ProfitLoss         float64     `json:"profit_loss,omitempty"`
	Quantity           int         `json:"quantity"`
}

// Key returns the contract key used to price this trade.
func (t *Trade) Key() OptionContractKey {
	return OptionContractKey{
		Underlying: t.Underlying,
		Expiration: t.ExpirationDate,
		OptionType: t.OptionType,
		Strike:     t.StrikePrice,
	}.Normalize()
}

// Validate checks the fields a trade needs before it can be stored.
func (t *Trade) Validate() error {
	if strings.TrimSpace(t.Underlying) == "" {
		return fmt.Errorf("trade underlying is required")
	}
	if !t.OptionType.Valid() {
		return fmt.Errorf("trade option type must be CALL or PUT, got %q", t.OptionType)
	}
	if t.StrikePrice <= 0 {
		return fmt.Errorf("trade strike price must be > 0")
	}
	if t.ExpirationDate.IsZero() {
		return fmt.Errorf("trade expiration date is required")
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("trade quantity must be > 0")
	}
	if t.PremiumReceived < 0 {
		return fmt.Errorf("trade premium received must be >= 0")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("trade status %q is invalid", t.Status)
	}
	return nil
}

// IsOpen reports whether the trade still needs live pricing.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeOpen
}

// MaxProfit is the full premium collected for the position.
func (t *Trade) MaxProfit() float64 {
	return t.PremiumReceived * float64(t.Quantity) * sharesPerContract
}

// UnrealizedPnL is the profit if the position were bought back at the current option price.
// Without a current price the whole premium counts as profit.
func (t *Trade) UnrealizedPnL() float64 {
	return (t.PremiumReceived - t.CurrentOptionPrice) * float64(t.Quantity) * sharesPerContract
}

// ProfitPct returns the unrealized P&L as a percentage of max profit.
func (t *Trade) ProfitPct() float64 {
	maxProfit := t.MaxProfit()
	if maxProfit <= 0 {
		return 0
	}
	return t.UnrealizedPnL() / maxProfit * 100
}

// DaysToExpiration returns whole days until expiration, clamped at zero.
func (t *Trade) DaysToExpiration(now time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	exp := t.ExpirationDate.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
