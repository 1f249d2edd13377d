// Package trading provides trading calculation utilities.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

// TruncateQuantity floors qty to the given decimal precision. Truncation is
// always toward zero, never rounding: a close order rounded up would request
// more than the account holds and be rejected (or worse, flip the position
// without the reduce-only flag).
func TruncateQuantity(qty float64, precision int) float64 {
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 {
		return 0
	}
	if precision < 0 {
		precision = 0
	}
	f, _ := decimal.NewFromFloat(qty).Truncate(int32(precision)).Float64()
	return f
}

// CalcCloseAmount computes the quantity to close given the current position
// size and a close ratio in (0, 1]. The result is capped at the current
// amount and truncated to the exchange precision.
func CalcCloseAmount(currentAmount, ratio float64, precision int) float64 {
	if currentAmount <= 0 || ratio <= 0 {
		return 0
	}
	if ratio > 1 {
		ratio = 1
	}
	amount := currentAmount * ratio
	if amount > currentAmount {
		amount = currentAmount
	}
	return TruncateQuantity(amount, precision)
}
