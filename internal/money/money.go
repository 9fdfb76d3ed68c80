// Package money holds the decimal helpers shared by the billing calculators.
// Every amount that leaves a calculator is quantized to two places with
// half-to-even rounding.
package money

import (
	"github.com/shopspring/decimal"
)

const Places = 2

var Hundred = decimal.NewFromInt(100)

// Quantize rounds d to two decimal places, half to even
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Places)
}

// Parse reads a decimal string and quantizes it
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return Quantize(d), nil
}

// Must is Parse for constants
func Must(s string) decimal.Decimal {
	return Quantize(decimal.RequireFromString(s))
}

// Clamp bounds d to [lo, hi]
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(d, lo), hi)
}

// Percent returns pct percent of d, quantized
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return Quantize(d.Mul(pct).Div(Hundred))
}

// NonNegative replaces negative values with zero
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
