package checkout

import (
	"github.com/shopspring/decimal"
)

const bpsDenominator = 10000

// priceWithinVariance reports whether currentCents stays within allowedBps
// basis points of the snapshot price captured in the cart.
func priceWithinVariance(snapshotCents, currentCents, allowedBps int) bool {
	if snapshotCents == currentCents {
		return true
	}
	if snapshotCents <= 0 {
		return false
	}
	snapshot := decimal.NewFromInt(int64(snapshotCents))
	drift := decimal.NewFromInt(int64(currentCents)).Sub(snapshot).Abs()
	allowed := snapshot.
		Mul(decimal.NewFromInt(int64(allowedBps))).
		Div(decimal.NewFromInt(bpsDenominator))
	return drift.LessThanOrEqual(allowed)
}

// orderTotalCents computes subtotal + tax + shipping - discount, rounded to
// whole cents.
func orderTotalCents(subtotal, tax, shipping, discount int) int {
	total := decimal.NewFromInt(int64(subtotal)).
		Add(decimal.NewFromInt(int64(tax))).
		Add(decimal.NewFromInt(int64(shipping))).
		Sub(decimal.NewFromInt(int64(discount))).
		Round(0)
	return int(total.IntPart())
}
