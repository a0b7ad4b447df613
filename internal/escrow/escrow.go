// Package escrow computes pre-funding and refund amounts for scheduled
// orders. Pure arithmetic, no side effects.
package escrow

import (
	"math/bits"

	"github.com/chronoswap/chronoswap/internal/types"
)

// Required returns the escrow that must be pulled up front for all
// occurrences of an order. Overflow fails rather than wrapping.
func Required(amountPerOccurrence uint64, totalOccurrences uint32) (uint64, error) {
	return mulChecked(amountPerOccurrence, uint64(totalOccurrences))
}

// Refundable returns the escrow still held for an order, i.e. the amount
// returned to the owner on cancellation or wind-down. Only meaningful
// while the order still holds escrow.
func Refundable(order *types.ScheduledOrder) (uint64, error) {
	return mulChecked(order.AmountPerOccurrence, uint64(order.RemainingOccurrences()))
}

func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, types.ErrAmountOverflow
	}
	return lo, nil
}
