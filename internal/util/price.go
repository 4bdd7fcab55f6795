// Package util provides common utility functions for price calculations.
package util

import "math"

// Option price increments: pennies below $3, nickels from $3 up.
const (
	PennyTick       = 0.01
	NickelTick      = 0.05
	nickelTickFloor = 3.0
)

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// OptionTick returns the quoting increment for an option trading at price.
func OptionTick(price float64) float64 {
	if math.Abs(price) < nickelTickFloor {
		return PennyTick
	}
	return NickelTick
}
