package quotes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestResolvePrice(t *testing.T) {
	tests := []struct {
		name      string
		bid       *float64
		ask       *float64
		last      *float64
		wantPrice float64
		wantSrc   PriceSource
	}{
		{"mid from both sides", f(2.00), f(3.00), nil, 2.50, PriceSourceMid},
		{"mid wins over last", f(1.00), f(1.20), f(5.00), 1.10, PriceSourceMid},
		{"mid is exact in decimal", f(0.10), f(0.20), nil, 0.15, PriceSourceMid},
		{"only last", nil, nil, f(1.50), 1.50, PriceSourceLast},
		{"last wins over one side", f(0.90), nil, f(1.00), 1.00, PriceSourceLast},
		{"only ask", nil, f(4.00), nil, 4.00, PriceSourceAsk},
		{"ask wins over bid when bid is zero", f(0), f(4.00), nil, 4.00, PriceSourceAsk},
		{"only bid", f(0.35), nil, nil, 0.35, PriceSourceBid},
		{"bid with zero last", f(0.35), nil, f(0), 0.35, PriceSourceBid},
		{"negative values ignored", f(-1), f(0.8), f(-2), 0.8, PriceSourceAsk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, src, err := ResolvePrice(tt.bid, tt.ask, tt.last)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, price)
			assert.Equal(t, tt.wantSrc, src)

			// Idempotent
			price2, src2, err2 := ResolvePrice(tt.bid, tt.ask, tt.last)
			require.NoError(t, err2)
			assert.Equal(t, price, price2)
			assert.Equal(t, src, src2)
		})
	}
}

func TestResolvePrice_NoPriceData(t *testing.T) {
	cases := [][3]*float64{
		{nil, nil, nil},
		{f(0), f(0), f(0)},
		{f(-1), nil, f(0)},
	}
	for _, c := range cases {
		_, _, err := ResolvePrice(c[0], c[1], c[2])
		assert.ErrorIs(t, err, ErrNoPriceData)
	}
}

func TestSpread(t *testing.T) {
	s := spread(f(1.00), f(1.20))
	require.NotNil(t, s)
	assert.Equal(t, 0.2, *s)

	assert.Nil(t, spread(nil, f(1.2)))
	assert.Nil(t, spread(f(1.0), f(0)))
}
