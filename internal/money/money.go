// Package money implements fixed-point monetary arithmetic in currency
// minor units. All persisted amounts are integers; fractional computation
// (percentages, tax) goes through decimal arithmetic and is rounded
// half-up to the cent exactly once.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in the currency's minor unit.
type Cents int64

// String renders the amount as a plain decimal, e.g. "112.50".
func (c Cents) String() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

// Mul returns the amount times an integer quantity.
func (c Cents) Mul(qty int) Cents {
	return Cents(int64(c) * int64(qty))
}

// PercentOf returns pct percent of amount, rounded half-up to the minor
// unit. decimal.Round rounds half away from zero, which for non-negative
// amounts is round-half-up.
func PercentOf(amount Cents, pct decimal.Decimal) Cents {
	v := decimal.New(int64(amount), 0).
		Mul(pct).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return Cents(v.IntPart())
}

// ApplyPercentDiscount returns the price after deducting pct percent.
func ApplyPercentDiscount(price Cents, pct decimal.Decimal) Cents {
	return price - PercentOf(price, pct)
}

// TaxOn returns the tax on subtotal at the given percentage rate, rounded
// half-up to the minor unit. rate is a percentage, e.g. 8.25 for 8.25%.
func TaxOn(subtotal Cents, rate decimal.Decimal) Cents {
	return PercentOf(subtotal, rate)
}

// ParsePercent validates a percentage value for discount use.
func ParsePercent(v decimal.Decimal) (decimal.Decimal, error) {
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Decimal{}, fmt.Errorf("percentage must be between 0 and 100, got %s", v)
	}
	return v, nil
}
