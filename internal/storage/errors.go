package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// ErrTradeNotFound is returned when no trade has the requested ID
var ErrTradeNotFound = errors.New("trade not found")

// ErrInvalidTrade wraps validation failures from AddTrade
var ErrInvalidTrade = errors.New("invalid trade")

// prepareTrade validates t and fills the fields every backend assigns on insert.
func prepareTrade(t *models.Trade, now time.Time) error {
	if t == nil {
		return fmt.Errorf("%w: nil trade", ErrInvalidTrade)
	}
	if t.Status == "" {
		t.Status = models.TradeOpen
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}
	key := t.Key()
	t.Underlying = key.Underlying
	t.OptionType = key.OptionType
	t.ExpirationDate = key.Expiration
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.DateSold.IsZero() {
		t.DateSold = now
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.ProfitLoss = t.UnrealizedPnL()
	return nil
}

// applyPrice updates the live pricing fields of t.
func applyPrice(t *models.Trade, price float64, ts time.Time, source string) {
	t.CurrentOptionPrice = price
	t.LastPriceUpdate = ts
	t.PriceSource = source
	t.UpdatedAt = ts
	t.ProfitLoss = t.UnrealizedPnL()
}
