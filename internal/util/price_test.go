package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{"basic rounding down", 1.2345, 0.01, 1.23},
		{"tie rounds away from zero", 1.235, 0.01, 1.24},
		{"negative basic rounding", -1.2345, 0.01, -1.23},
		{"larger tick size", 1.27, 0.05, 1.25},
		{"exact multiple", 1.25, 0.05, 1.25},
		{"zero tick returns input", 1.2345, 0, 1.2345},
		{"negative tick returns input", 1.2345, -0.01, 1.2345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestOptionTick(t *testing.T) {
	tests := []struct {
		price float64
		want  float64
	}{
		{0.05, PennyTick},
		{2.99, PennyTick},
		{3.00, NickelTick},
		{12.40, NickelTick},
	}
	for _, tt := range tests {
		if got := OptionTick(tt.price); got != tt.want {
			t.Errorf("OptionTick(%v) = %v, want %v", tt.price, got, tt.want)
		}
	}
}
