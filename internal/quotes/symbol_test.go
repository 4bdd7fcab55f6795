package quotes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func contract(underlying string, exp time.Time, ot models.OptionType, strike float64) models.OptionContractKey {
	return models.OptionContractKey{Underlying: underlying, Expiration: exp, OptionType: ot, Strike: strike}
}

func TestFormatSymbol(t *testing.T) {
	tests := []struct {
		name string
		key  models.OptionContractKey
		want string
	}{
		{"standard put", contract("AAPL", date(2025, 3, 15), models.OptionTypePut, 180), "AAPL250315P00180000"},
		{"fractional call", contract("SOFI", date(2025, 6, 20), models.OptionTypeCall, 8.5), "SOFI250620C00008500"},
		{"lowercase underlying", contract("spy", date(2024, 12, 20), models.OptionTypeCall, 450.5), "SPY241220C00450500"},
		{"max strike", contract("NVR", date(2026, 1, 16), models.OptionTypeCall, 10000), "NVR260116C10000000"},
		{"sub-dollar strike", contract("F", date(2025, 1, 17), models.OptionTypePut, 0.5), "F250117P00000500"},
		{"two digit year wraps", contract("X", date(2100, 1, 1), models.OptionTypePut, 1), "X000101P00001000"},
		{"time of day ignored", contract("AAPL", time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC), models.OptionTypePut, 180), "AAPL250315P00180000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSymbol(tt.key))
		})
	}
}

func TestFormatSymbolVariants(t *testing.T) {
	tests := []struct {
		name string
		key  models.OptionContractKey
		want []string
	}{
		{
			name: "whole strike",
			key:  contract("AAPL", date(2025, 3, 15), models.OptionTypePut, 180),
			want: []string{"AAPL250315P00180000", "AAPL250315P00018000", "AAPL250315P00000180", "AAPL250315P01800000"},
		},
		{
			name: "half strike rounds up for the integer encoding",
			key:  contract("SOFI", date(2025, 6, 20), models.OptionTypeCall, 8.5),
			want: []string{"SOFI250620C00008500", "SOFI250620C00000850", "SOFI250620C00000009", "SOFI250620C00085000"},
		},
		{
			name: "x10000 overflows eight digits",
			key:  contract("NVR", date(2026, 1, 16), models.OptionTypeCall, 10000),
			want: []string{"NVR260116C10000000", "NVR260116C01000000", "NVR260116C00010000"},
		},
		{
			name: "integer encoding that rounds to zero is skipped",
			key:  contract("F", date(2025, 1, 17), models.OptionTypePut, 0.25),
			want: []string{"F250117P00000250", "F250117P00000025", "F250117P00002500"},
		},
		{
			name: "x100 rounds half up",
			key:  contract("ABC", date(2025, 2, 21), models.OptionTypePut, 12.345),
			want: []string{"ABC250221P00012345", "ABC250221P00001235", "ABC250221P00000012", "ABC250221P00123450"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSymbolVariants(tt.key))
		})
	}
}

func TestFormatSymbolVariants_Properties(t *testing.T) {
	strikes := []float64{0.5, 1, 2.5, 7.75, 10, 12.345, 99.99, 100, 180, 452.5, 999.5, 1234.56, 5000, 10000}
	dates := []time.Time{date(2025, 1, 17), date(2025, 12, 31), date(2026, 6, 18)}
	types := []models.OptionType{models.OptionTypePut, models.OptionTypeCall}

	for _, s := range strikes {
		for _, d := range dates {
			for _, ot := range types {
				key := contract("QQQ", d, ot, s)
				variants := FormatSymbolVariants(key)

				require.NotEmpty(t, variants)
				assert.Equal(t, FormatSymbol(key), variants[0], "first variant must be the x1000 form")
				assert.Equal(t, variants, FormatSymbolVariants(key), "variants must be deterministic")

				seen := map[string]bool{}
				for _, v := range variants {
					assert.False(t, seen[v], "duplicate variant %s", v)
					seen[v] = true
					assert.Len(t, v, len("QQQ")+6+1+8)
				}
			}
		}
	}
}

func TestParseSymbol(t *testing.T) {
	key, err := ParseSymbol("AAPL250315P00180000")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", key.Underlying)
	assert.Equal(t, date(2025, 3, 15), key.Expiration)
	assert.Equal(t, models.OptionTypePut, key.OptionType)
	assert.Equal(t, 180.0, key.Strike)

	key, err = ParseSymbol(" spy241220c00450500 ")
	require.NoError(t, err)
	assert.Equal(t, "SPY", key.Underlying)
	assert.Equal(t, models.OptionTypeCall, key.OptionType)
	assert.Equal(t, 450.5, key.Strike)
}

func TestParseSymbol_RoundTrip(t *testing.T) {
	for _, k := range []models.OptionContractKey{
		contract("SOFI", date(2025, 6, 20), models.OptionTypeCall, 8.5),
		contract("TSLA", date(2026, 1, 16), models.OptionTypePut, 212.5),
		contract("F", date(2025, 1, 17), models.OptionTypePut, 0.5),
	} {
		parsed, err := ParseSymbol(FormatSymbol(k))
		require.NoError(t, err)
		assert.True(t, parsed.Equal(k), "round trip of %s gave %s", k, parsed)
	}
}

func TestParseSymbol_Invalid(t *testing.T) {
	bad := []string{
		"",
		"AAPL",
		"AAPL250315X00180000",
		"AAPL250315P0018000A",
		"AAPL25031PP00180000",
		"AAPL251315P00180000",
		"250315P00180000",
		"ABCDEFGHIJK250315P00180000",
		"AAPL1250315P00180000",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := ParseSymbol(s)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}
