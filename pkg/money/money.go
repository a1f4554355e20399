// Package money holds the integer-cents arithmetic rules for the ledger.
//
// All amounts are int64 cents. Floating point never enters the core; the
// only dollar conversion happens at response serialization time.
package money

import "fmt"

const (
	// MinAmountCents is the smallest amount a ledger mutation may carry.
	MinAmountCents int64 = 1

	// MaxAmountCents caps a single mutation at 10^9 cents ($10M).
	MaxAmountCents int64 = 1_000_000_000
)

// ValidateAmount checks that an amount is within the allowed mutation range.
func ValidateAmount(cents int64) error {
	if cents < MinAmountCents {
		return fmt.Errorf("amount must be positive, got %d", cents)
	}
	if cents > MaxAmountCents {
		return fmt.Errorf("amount exceeds maximum of %d cents, got %d", MaxAmountCents, cents)
	}
	return nil
}

// Dollars converts cents to a display dollar value.
// For human-facing responses only; never feed the result back into the ledger.
func Dollars(cents int64) float64 {
	return float64(cents) / 100.0
}
