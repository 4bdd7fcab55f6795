// Package models defines the trade and option contract types shared by the
// quote, batch and storage packages.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Contract limits enforced by Validate.
const (
	MaxUnderlyingLen = 10
	MaxStrikePrice   = 10000.0
	// MaxExpirationYears is how far in the future an expiration may be.
	MaxExpirationYears = 2
)

// DateLayout is the calendar date format used for expirations.
const DateLayout = "2006-01-02"

// ErrInvalidContract is wrapped by every validation failure of an OptionContractKey.
var ErrInvalidContract = errors.New("invalid option contract")

// OptionType represents the type of option contract
type OptionType string

const (
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "PUT"
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "CALL"
)

// ParseOptionType accepts "put"/"call" in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch OptionType(strings.ToUpper(strings.TrimSpace(s))) {
	case OptionTypePut:
		return OptionTypePut, nil
	case OptionTypeCall:
		return OptionTypeCall, nil
	default:
		return "", fmt.Errorf("%w: option type must be CALL or PUT, got %q", ErrInvalidContract, s)
	}
}

// Valid returns true if the OptionType is one of the defined constants
func (t OptionType) Valid() bool {
	return t == OptionTypePut || t == OptionTypeCall
}

// Code returns the single-letter code used in option symbols.
func (t OptionType) Code() byte {
	if t == OptionTypePut {
		return 'P'
	}
	return 'C'
}

// OptionContractKey identifies one option instrument to price.
type OptionContractKey struct {
	Underlying string     `json:"underlying"`
	Expiration time.Time  `json:"expiration_date"`
	OptionType OptionType `json:"option_type"`
	Strike     float64    `json:"strike_price"`
}

// NewOptionContractKey builds a normalized key from loosely typed input.
// It does not check the expiration window; call Validate for that.
func NewOptionContractKey(underlying, expiration, optionType string, strike float64) (OptionContractKey, error) {
	exp, err := time.Parse(DateLayout, strings.TrimSpace(expiration))
	if err != nil {
		return OptionContractKey{}, fmt.Errorf("%w: expiration date %q must be YYYY-MM-DD", ErrInvalidContract, expiration)
	}
	ot, err := ParseOptionType(optionType)
	if err != nil {
		return OptionContractKey{}, err
	}
	return OptionContractKey{
		Underlying: underlying,
		Expiration: exp,
		OptionType: ot,
		Strike:     strike,
	}.Normalize(), nil
}

// Normalize upper-cases the underlying and strips the time of day from the expiration.
func (k OptionContractKey) Normalize() OptionContractKey {
	k.Underlying = strings.ToUpper(strings.TrimSpace(k.Underlying))
	k.OptionType = OptionType(strings.ToUpper(string(k.OptionType)))
	y, m, d := k.Expiration.Date()
	k.Expiration = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return k
}

// Validate checks the key against the contract limits as of now.
func (k OptionContractKey) Validate(now time.Time) error {
	k = k.Normalize()
	if err := k.ValidateFields(); err != nil {
		return err
	}

	today := startOfDay(now)
	if !k.Expiration.After(today) {
		return fmt.Errorf("%w: expiration %s must be in the future", ErrInvalidContract, k.Expiration.Format(DateLayout))
	}
	if k.Expiration.After(today.AddDate(MaxExpirationYears, 0, 0)) {
		return fmt.Errorf("%w: expiration %s is more than %d years out", ErrInvalidContract,
			k.Expiration.Format(DateLayout), MaxExpirationYears)
	}
	return nil
}

// ValidateFields checks everything Validate does except the expiration
// window, so expired contracts can still be inspected.
func (k OptionContractKey) ValidateFields() error {
	k = k.Normalize()

	if k.Underlying == "" {
		return fmt.Errorf("%w: underlying symbol is required", ErrInvalidContract)
	}
	if len(k.Underlying) > MaxUnderlyingLen {
		return fmt.Errorf("%w: underlying %q exceeds %d characters", ErrInvalidContract, k.Underlying, MaxUnderlyingLen)
	}
	if k.Expiration.IsZero() {
		return fmt.Errorf("%w: expiration date is required", ErrInvalidContract)
	}
	if !k.OptionType.Valid() {
		return fmt.Errorf("%w: option type must be CALL or PUT, got %q", ErrInvalidContract, k.OptionType)
	}
	if k.Strike <= 0 {
		return fmt.Errorf("%w: strike price must be greater than 0", ErrInvalidContract)
	}
	if k.Strike > MaxStrikePrice {
		return fmt.Errorf("%w: strike price %.2f exceeds %.0f", ErrInvalidContract, k.Strike, MaxStrikePrice)
	}
	return nil
}

// DaysUntil returns calendar days from now to expiration, negative once expired.
func (k OptionContractKey) DaysUntil(now time.Time) int {
	exp := k.Normalize().Expiration
	return int(exp.Sub(startOfDay(now)).Hours() / 24)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StrikeDecimal returns the strike as an exact decimal.
func (k OptionContractKey) StrikeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(k.Strike)
}

// Equal reports whether both keys name the same instrument after normalization.
func (k OptionContractKey) Equal(other OptionContractKey) bool {
	a, b := k.Normalize(), other.Normalize()
	return a.Underlying == b.Underlying &&
		a.Expiration.Equal(b.Expiration) &&
		a.OptionType == b.OptionType &&
		a.StrikeDecimal().Equal(b.StrikeDecimal())
}

func (k OptionContractKey) String() string {
	return fmt.Sprintf("%s %s %s $%s", k.Underlying, k.Expiration.Format(DateLayout),
		k.OptionType, k.StrikeDecimal().String())
}
