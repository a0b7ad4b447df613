package types

// MinInterval is the minimum recurrence interval in seconds.
const MinInterval uint64 = 60

// ValidateScheduleParams rejects malformed schedule parameters before any
// state is created. Recurring payments put the recipient account in the
// asset-out slot, so the same-asset check does not apply to them.
func ValidateScheduleParams(kind OrderKind, assetIn, assetOut string, amountPerOccurrence, interval uint64) error {
	if amountPerOccurrence == 0 {
		return ErrInvalidAmount
	}
	if interval != 0 && interval < MinInterval {
		return ErrIntervalTooShort
	}
	if kind != KindRecurringPayment && assetIn == assetOut {
		return ErrSameAsset
	}
	return nil
}
