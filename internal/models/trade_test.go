package models

import (
	"math"
	"testing"
	"time"
)

func TestTrade_PnL(t *testing.T) {
	tests := []struct {
		name          string
		trade         Trade
		wantPnL       float64
		wantMaxProfit float64
		wantPct       float64
	}{
		{
			name:          "half of premium decayed",
			trade:         Trade{PremiumReceived: 2.00, CurrentOptionPrice: 1.00, Quantity: 2},
			wantPnL:       200,
			wantMaxProfit: 400,
			wantPct:       50,
		},
		{
			name:          "option moved against the seller",
			trade:         Trade{PremiumReceived: 1.50, CurrentOptionPrice: 3.00, Quantity: 1},
			wantPnL:       -150,
			wantMaxProfit: 150,
			wantPct:       -100,
		},
		{
			name:          "no current price counts the full premium",
			trade:         Trade{PremiumReceived: 3.50, Quantity: 1},
			wantPnL:       350,
			wantMaxProfit: 350,
			wantPct:       100,
		},
		{
			name:          "zero premium has no percentage",
			trade:         Trade{PremiumReceived: 0, CurrentOptionPrice: 0.5, Quantity: 1},
			wantPnL:       -50,
			wantMaxProfit: 0,
			wantPct:       0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trade.UnrealizedPnL(); math.Abs(got-tt.wantPnL) > 1e-9 {
				t.Errorf("UnrealizedPnL() = %v, want %v", got, tt.wantPnL)
			}
			if got := tt.trade.MaxProfit(); math.Abs(got-tt.wantMaxProfit) > 1e-9 {
				t.Errorf("MaxProfit() = %v, want %v", got, tt.wantMaxProfit)
			}
			if got := tt.trade.ProfitPct(); math.Abs(got-tt.wantPct) > 1e-9 {
				t.Errorf("ProfitPct() = %v, want %v", got, tt.wantPct)
			}
		})
	}
}

func TestTrade_Validate(t *testing.T) {
	base := Trade{
		Underlying:      "SOFI",
		OptionType:      OptionTypePut,
		StrikePrice:     8,
		ExpirationDate:  date(2025, 6, 20),
		PremiumReceived: 0.35,
		Quantity:        1,
		Status:          TradeOpen,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid trade, got %v", err)
	}

	bad := []func(tr *Trade){
		func(tr *Trade) { tr.Underlying = "" },
		func(tr *Trade) { tr.OptionType = "" },
		func(tr *Trade) { tr.StrikePrice = 0 },
		func(tr *Trade) { tr.ExpirationDate = time.Time{} },
		func(tr *Trade) { tr.Quantity = 0 },
		func(tr *Trade) { tr.PremiumReceived = -1 },
		func(tr *Trade) { tr.Status = "pending" },
	}
	for i, mutate := range bad {
		tr := base
		mutate(&tr)
		if err := tr.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestTrade_KeyNormalizes(t *testing.T) {
	tr := Trade{Underlying: "asts", OptionType: OptionTypeCall, StrikePrice: 25, ExpirationDate: time.Date(2025, 2, 21, 20, 0, 0, 0, time.UTC)}
	k := tr.Key()
	if k.Underlying != "ASTS" {
		t.Errorf("Underlying = %q, want ASTS", k.Underlying)
	}
	if !k.Expiration.Equal(date(2025, 2, 21)) {
		t.Errorf("Expiration = %v, want 2025-02-21", k.Expiration)
	}
}

func TestTrade_DaysToExpiration(t *testing.T) {
	tr := Trade{ExpirationDate: date(2025, 1, 17)}
	if got := tr.DaysToExpiration(testNow); got != 7 {
		t.Errorf("DaysToExpiration = %d, want 7", got)
	}
	if got := tr.DaysToExpiration(date(2025, 2, 1)); got != 0 {
		t.Errorf("DaysToExpiration after expiry = %d, want 0", got)
	}
}
