package domain

import "github.com/shopspring/decimal"

// Epsilon is the currency tolerance used for balance and discrepancy checks.
var Epsilon = decimal.New(1, -2)

func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

// Classify maps a discrepancy to Balanced, Surplus or Deficit.
func Classify(d decimal.Decimal) string {
	switch {
	case d.Abs().LessThan(Epsilon):
		return StatusBalanced
	case d.IsPositive():
		return StatusSurplus
	default:
		return StatusDeficit
	}
}

// MinZero clamps negative amounts to zero.
func MinZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
