package quotes

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// symbolDateLayout is the YYMMDD expiration segment of an option symbol.
const symbolDateLayout = "060102"

// maxEncodedStrike is the largest value that fits the 8-digit strike field.
const maxEncodedStrike = 99999999

// StrikeMultipliers are the strike encodings tried, most likely first.
// 1000 is the standard OCC convention.
var StrikeMultipliers = []int64{1000, 100, 1, 10000}

// encodeStrike returns strike × multiplier rounded half-up.
func encodeStrike(strike decimal.Decimal, multiplier int64) int64 {
	return strike.Mul(decimal.NewFromInt(multiplier)).Round(0).IntPart()
}

func buildSymbol(key models.OptionContractKey, encoded int64) string {
	return fmt.Sprintf("%s%s%c%08d", key.Underlying, key.Expiration.Format(symbolDateLayout),
		key.OptionType.Code(), encoded)
}

// FormatSymbol builds the canonical option symbol:
// UNDERLYING + YYMMDD + P|C + strike×1000 zero-padded to 8 digits.
// The year is two digits by convention.
func FormatSymbol(key models.OptionContractKey) string {
	key = key.Normalize()
	return buildSymbol(key, encodeStrike(key.StrikeDecimal(), StrikeMultipliers[0]))
}

// FormatSymbolVariants returns the canonical symbol followed by the ×100, ×1
// and ×10000 encodings, without duplicates. Encodings that overflow 8 digits
// or round to zero are left out.
func FormatSymbolVariants(key models.OptionContractKey) []string {
	variants := make([]string, 0, len(StrikeMultipliers))
	seen := make(map[string]struct{}, len(StrikeMultipliers))

	variants = append(variants, FormatSymbol(key))
	seen[variants[0]] = struct{}{}

	key = key.Normalize()
	for _, m := range StrikeMultipliers[1:] {
		encoded := encodeStrike(key.StrikeDecimal(), m)
		if encoded <= 0 || encoded > maxEncodedStrike {
			continue
		}
		s := buildSymbol(key, encoded)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		variants = append(variants, s)
	}
	return variants
}

// ParseSymbol decodes a standard (×1000) option symbol back into a contract key.
func ParseSymbol(symbol string) (models.OptionContractKey, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	// OSI format: UNDERLYING + YYMMDD + P/C + 8-digit strike
	if len(s) < 16 {
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q is too short", ErrInvalidParams, symbol)
	}

	strikeStart := len(s) - 8
	typeIdx := strikeStart - 1
	dateStart := typeIdx - 6

	if !isEightDigits(s[strikeStart:]) {
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q must end with an 8-digit strike", ErrInvalidParams, symbol)
	}
	var optionType models.OptionType
	switch s[typeIdx] {
	case 'P':
		optionType = models.OptionTypePut
	case 'C':
		optionType = models.OptionTypeCall
	default:
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q has no P/C type before the strike", ErrInvalidParams, symbol)
	}
	if !isSixDigits(s[dateStart:typeIdx]) {
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q has no YYMMDD expiration", ErrInvalidParams, symbol)
	}
	// The 6-digit date must not be part of a longer numeric run
	if dateStart > 0 && s[dateStart-1] >= '0' && s[dateStart-1] <= '9' {
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q has an ambiguous expiration", ErrInvalidParams, symbol)
	}
	underlying := s[:dateStart]
	if underlying == "" || len(underlying) > models.MaxUnderlyingLen {
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q has an invalid underlying", ErrInvalidParams, symbol)
	}

	exp, err := time.Parse(symbolDateLayout, s[dateStart:typeIdx])
	if err != nil {
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q expiration: %v", ErrInvalidParams, symbol, err)
	}
	strike, err := decimal.NewFromString(s[strikeStart:])
	if err != nil {
		return models.OptionContractKey{}, fmt.Errorf("%w: symbol %q strike: %v", ErrInvalidParams, symbol, err)
	}

	return models.OptionContractKey{
		Underlying: underlying,
		Expiration: exp,
		OptionType: optionType,
		Strike:     strike.Div(decimal.NewFromInt(StrikeMultipliers[0])).InexactFloat64(),
	}, nil
}

// isSixDigits checks if a string consists of exactly 6 digits
func isSixDigits(s string) bool {
	return len(s) == 6 && allDigits(s)
}

// isEightDigits checks if a string consists of exactly 8 digits
func isEightDigits(s string) bool {
	return len(s) == 8 && allDigits(s)
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
