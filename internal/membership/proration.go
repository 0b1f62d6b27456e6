// internal/membership/proration.go
package membership

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProratedCharge computes the amount owed when a membership moves to a new
// plan mid-cycle: the new plan's price minus the unused value of the current
// one. The unused value is currentPrice * remainingDays / totalDays, measured
// in whole days and rounded to two decimal places, half up.
//
// A zero-length period (start == end) is treated as fully elapsed: there is
// no residual value to credit and the full new price is owed.
func ProratedCharge(currentPrice decimal.Decimal, start, end, now time.Time, newPrice decimal.Decimal) decimal.Decimal {
	totalDays := wholeDaysBetween(start, end)
	if totalDays <= 0 {
		return newPrice
	}

	remainingDays := wholeDaysBetween(now, end)
	if remainingDays < 0 {
		remainingDays = 0
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	remainingValue := currentPrice.
		Mul(decimal.NewFromInt(remainingDays)).
		DivRound(decimal.NewFromInt(totalDays), 2)

	return newPrice.Sub(remainingValue)
}

// wholeDaysBetween truncates toward zero, matching day-granularity billing.
func wholeDaysBetween(from, to time.Time) int64 {
	return int64(to.Sub(from) / (24 * time.Hour))
}
