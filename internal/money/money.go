// Package money fixes the numeric policy for the ledger core: every monetary
// or quantitative value is a shopspring decimal with a fixed scale, rounded
// half-up once, at write time. Reads never re-round.
package money

import "github.com/shopspring/decimal"

const (
	// AmountScale is the scale for currency amounts.
	AmountScale = 2
	// QuantityScale is the scale for stock quantities.
	QuantityScale = 3
	// CostScale is the scale for unit costs.
	CostScale = 4
)

// Tolerance is the equality tolerance for currency comparisons.
var Tolerance = decimal.New(1, -2)

// qtyEpsilon guards quantity comparisons against scale-3 rounding dust.
var qtyEpsilon = decimal.New(1, -9)

// Amount rounds a currency value to its storage scale.
func Amount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// Quantity rounds a stock quantity to its storage scale.
func Quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

// Cost rounds a unit cost to its storage scale.
func Cost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostScale)
}

// ApproxZero reports whether d is zero within Tolerance.
func ApproxZero(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Tolerance)
}

// ApproxEqual reports whether a and b are equal within Tolerance.
func ApproxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// QtyExceeds reports whether requested is strictly greater than available,
// ignoring floating dust below qtyEpsilon.
func QtyExceeds(requested, available decimal.Decimal) bool {
	return requested.GreaterThan(available.Add(qtyEpsilon))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}
