package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units. All order, return and balance
// arithmetic is done on Money; percentages go through decimal and are
// rounded half away from zero back to whole units.
type Money int64

var decimalOneHundred = decimal.NewFromInt(100)

// Percent returns pct% of m, rounded to whole minor units.
func (m Money) Percent(pct decimal.Decimal) Money {
	if pct.IsZero() || m == 0 {
		return 0
	}
	return Money(decimal.NewFromInt(int64(m)).Mul(pct).DivRound(decimalOneHundred, 0).IntPart())
}

// Times multiplies m by an item quantity.
func (m Money) Times(qty int) Money {
	return m * Money(qty)
}

func (m Money) String() string {
	return fmt.Sprintf("%d", int64(m))
}

// CalculateDiscountAmount mirrors the percentage discount rule used on cart
// lines: zero or negative rates yield no discount.
func CalculateDiscountAmount(unitPrice Money, discountPct decimal.Decimal) Money {
	if !discountPct.GreaterThan(decimal.Zero) {
		return 0
	}
	return unitPrice.Percent(discountPct)
}

// CalculateTaxAmount computes tax on an already discounted unit price.
func CalculateTaxAmount(netUnitPrice Money, taxPct decimal.Decimal) Money {
	if !taxPct.GreaterThan(decimal.Zero) {
		return 0
	}
	return netUnitPrice.Percent(taxPct)
}
