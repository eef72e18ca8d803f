package domain

import (
	"github.com/shopspring/decimal"
)

// BalancePlaces is the number of decimal places a balance is kept at.
const BalancePlaces = 2

// RoundBalance rounds to two places, half-up.
// decimal.Round rounds half away from zero, which equals half-up for the
// non-negative values a balance can hold.
func RoundBalance(v decimal.Decimal) decimal.Decimal {
	return v.Round(BalancePlaces)
}

// Accrue returns balance+increment rounded to two places.
// Negative increments are ignored so the result never drops below balance.
func Accrue(balance, increment decimal.Decimal) decimal.Decimal {
	if increment.IsNegative() {
		increment = decimal.Zero
	}

	return RoundBalance(balance.Add(increment))
}

// NormalizeBalance clamps a value read from a store to a valid balance.
func NormalizeBalance(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}

	return RoundBalance(v)
}
