package quotes

import (
	"github.com/shopspring/decimal"
)

// PriceSource names the field a resolved price came from.
type PriceSource string

const (
	PriceSourceMid  PriceSource = "mid"
	PriceSourceLast PriceSource = "last"
	PriceSourceAsk  PriceSource = "ask"
	PriceSourceBid  PriceSource = "bid"
)

func positive(v *float64) bool {
	return v != nil && *v > 0
}

// ResolvePrice picks one representative price: the bid/ask midpoint when both
// sides are quoted, then the last trade, then the ask, then the bid.
func ResolvePrice(bid, ask, last *float64) (float64, PriceSource, error) {
	switch {
	case positive(bid) && positive(ask):
		mid := decimal.NewFromFloat(*bid).Add(decimal.NewFromFloat(*ask)).Div(decimal.NewFromInt(2))
		return mid.InexactFloat64(), PriceSourceMid, nil
	case positive(last):
		return *last, PriceSourceLast, nil
	case positive(ask):
		return *ask, PriceSourceAsk, nil
	case positive(bid):
		return *bid, PriceSourceBid, nil
	default:
		return 0, "", ErrNoPriceData
	}
}

// spread returns ask − bid when both sides are quoted.
func spread(bid, ask *float64) *float64 {
	if !positive(bid) || !positive(ask) {
		return nil
	}
	s := decimal.NewFromFloat(*ask).Sub(decimal.NewFromFloat(*bid)).InexactFloat64()
	return &s
}
