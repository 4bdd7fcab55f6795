package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// farExpirationDays is the horizon past which market data coverage gets thin.
const farExpirationDays = 365

// VariantResult is the outcome of one strike encoding during diagnosis.
type VariantResult struct {
	Symbol      string      `json:"symbol"`
	Endpoint    string      `json:"endpoint,omitempty"`
	PriceSource PriceSource `json:"price_source,omitempty"`
	Attempts    []Attempt   `json:"attempts"`
	Price       float64     `json:"price,omitempty"`
	Variant     int         `json:"variant"`
	Found       bool        `json:"found"`
}

// Diagnosis explains why a contract does or does not price.
type Diagnosis struct {
	Contract               models.OptionContractKey `json:"contract"`
	WorkingSymbol          string                   `json:"working_symbol,omitempty"`
	Results                []VariantResult          `json:"results"`
	AlternativeExpirations []string                 `json:"alternative_expirations"`
	Recommendations        []string                 `json:"recommendations"`
	Price                  float64                  `json:"price,omitempty"`
	DaysToExpiry           int                      `json:"days_to_expiry"`
	Expired                bool                     `json:"is_expired"`
	Found                  bool                     `json:"found"`
}

// Diagnose tries every strike encoding of key in order until one prices and
// reports each outcome, along with nearby standard expirations and
// suggestions for fixing the trade. Unlike ResolveQuote it accepts expired
// contracts and never serves from the cache. It uses one unit of rate budget.
func (c *Client) Diagnose(ctx context.Context, key models.OptionContractKey) (*Diagnosis, error) {
	if err := key.ValidateFields(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	key = key.Normalize()
	now := c.now()

	d := &Diagnosis{
		Contract:               key,
		DaysToExpiry:           key.DaysUntil(now),
		AlternativeExpirations: alternativeExpirations(key.Expiration),
	}
	d.Expired = d.DaysToExpiry < 0

	if err := c.acquire(); err != nil {
		return nil, err
	}

	canonical := FormatSymbol(key)
	for i, symbol := range FormatSymbolVariants(key) {
		rec, attempts, err := c.fetchWithFallback(ctx, symbol)
		res := VariantResult{Symbol: symbol, Variant: i + 1, Attempts: attempts}
		if err == nil {
			res.Found = true
			res.Endpoint = rec.Endpoint
			res.Price = rec.Price
			res.PriceSource = rec.PriceSource
			d.Results = append(d.Results, res)

			d.Found = true
			d.WorkingSymbol = symbol
			d.Price = rec.Price
			c.cache.Put(canonical, rec)
			if symbol != canonical {
				c.cache.Put(symbol, rec)
			}
			break
		}
		d.Results = append(d.Results, res)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("diagnosing %s: %w", key, ctxErr)
		}
	}

	d.Recommendations = recommend(d)
	c.logger.WithFields(logrus.Fields{
		"contract": key.String(),
		"found":    d.Found,
		"symbol":   d.WorkingSymbol,
		"tried":    len(d.Results),
	}).Info("contract diagnosis finished")
	return d, nil
}

func recommend(d *Diagnosis) []string {
	var out []string
	if d.Expired {
		out = append(out, "Contract has expired. Mark the trade expired or closed.")
	}
	if d.DaysToExpiry > farExpirationDays {
		out = append(out, "Expiration is more than a year out. Market data may not cover it yet.")
	}
	if !d.Found {
		out = append(out,
			"No strike encoding returned a quote. The contract may not exist or may not be trading.",
			"Check that the expiration is a standard expiration date.",
			"Enter the price by hand if your broker shows one.",
		)
	}
	if wd := d.Contract.Expiration.Weekday(); wd != time.Friday {
		out = append(out, fmt.Sprintf("Expiration falls on a %s. Standard expirations are Fridays; see the alternatives.", wd))
	}
	return out
}

// alternativeExpirations lists the next Friday after exp, the third Friday of
// its month and the last day of its month, without duplicates.
func alternativeExpirations(exp time.Time) []string {
	nextFriday := exp.AddDate(0, 0, daysUntilFriday(exp.Weekday()))
	if nextFriday.Equal(exp) {
		nextFriday = exp.AddDate(0, 0, 7)
	}

	first := time.Date(exp.Year(), exp.Month(), 1, 0, 0, 0, 0, time.UTC)
	thirdFriday := first.AddDate(0, 0, daysUntilFriday(first.Weekday())+14)
	endOfMonth := first.AddDate(0, 1, -1)

	var out []string
	seen := make(map[string]bool, 3)
	for _, t := range []time.Time{nextFriday, thirdFriday, endOfMonth} {
		s := t.Format(models.DateLayout)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func daysUntilFriday(wd time.Weekday) int {
	return (int(time.Friday) - int(wd) + 7) % 7
}
