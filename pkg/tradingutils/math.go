package tradingutils

import (
	"github.com/shopspring/decimal"
)

// Notional computes quantity * price as a decimal amount
func Notional(quantity int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity))
}

// CeilDiv returns ceil(quantity / size) for positive inputs
func CeilDiv(quantity, size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (quantity + size - 1) / size
}

// SplitEven divides quantity into n slices of equal size with the remainder
// assigned to the last slice, so the slice sum always equals quantity
func SplitEven(quantity int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	base := quantity / int64(n)
	slices := make([]int64, n)
	for i := range slices {
		slices[i] = base
	}
	slices[n-1] += quantity - base*int64(n)
	return slices
}

// SplitByWeights sizes each slice as floor(quantity * weight) with the final
// slice absorbing the rounding remainder. Weights are applied as given; a
// profile that does not sum to 1.0 shifts the remainder accordingly.
func SplitByWeights(quantity int64, weights []float64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	qty := decimal.NewFromInt(quantity)
	slices := make([]int64, len(weights))
	var assigned int64
	for i, w := range weights[:len(weights)-1] {
		s := qty.Mul(decimal.NewFromFloat(w)).IntPart()
		if s < 0 {
			s = 0
		}
		slices[i] = s
		assigned += s
	}
	slices[len(weights)-1] = quantity - assigned
	return slices
}

// BpsDiff returns |actual - expected| / expected in basis points
func BpsDiff(expected, actual decimal.Decimal) float64 {
	if expected.IsZero() {
		return 0
	}
	return actual.Sub(expected).Abs().Div(expected).Mul(decimal.NewFromInt(10_000)).InexactFloat64()
}

// ClampQuantityToNotional lowers quantity (never raises it) until
// quantity * price fits within the notional cap
func ClampQuantityToNotional(quantity int64, price, cap decimal.Decimal) int64 {
	if quantity <= 0 || !price.IsPositive() {
		return quantity
	}
	if Notional(quantity, price).LessThanOrEqual(cap) {
		return quantity
	}
	clamped := cap.Div(price).IntPart()
	if clamped < 0 {
		clamped = 0
	}
	return clamped
}
