package discount

import (
	"github.com/shopspring/decimal"
)

// Calculate maps a base amount to a discount amount for the given kind and
// value. Fixed discounts never exceed the base; percentages take value/100 of
// it. Unknown kinds yield zero. The result is not rounded so that callers can
// sum several amounts before the final rounding step.
func Calculate(base decimal.Decimal, kind Kind, value decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() || value.IsNegative() {
		return decimal.Zero
	}

	switch kind {
	case KindFixed:
		return decimal.Min(value, base)
	case KindPercentage:
		return base.Mul(value).Div(hundred)
	default:
		return decimal.Zero
	}
}
