package tradingutils

import (
	"github.com/shopspring/decimal"
)

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Lerp linearly interpolates between a and b as t goes 0 to 1. t is clamped.
func Lerp(a, b, t float64) float64 {
	t = Clamp01(t)
	return a + (b-a)*t
}

// RoundUSD rounds a dollar amount to cents.
func RoundUSD(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// PctOf returns pct (e.g. 0.08) of a dollar amount.
func PctOf(amount decimal.Decimal, pct float64) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(pct))
}

// SafeDiv divides a by b, returning zero when b is zero.
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// MinDecimal returns the smallest of the given values.
func MinDecimal(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	min := first
	for _, v := range rest {
		if v.LessThan(min) {
			min = v
		}
	}
	return min
}

// MaxDecimal returns the largest of the given values.
func MaxDecimal(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	max := first
	for _, v := range rest {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}
