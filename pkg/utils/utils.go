package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// DaysOverdue returns the number of whole days elapsed since dueDate.
// Formula: floor((now - dueDate) / 1 day), never negative.
func DaysOverdue(dueDate, now time.Time) int {
	if !now.After(dueDate) {
		return 0
	}
	return int(now.Sub(dueDate) / day)
}

// AddDays shifts t by a whole number of 24h days.
func AddDays(t time.Time, days int) time.Time {
	return t.Add(time.Duration(days) * day)
}

// LateFee computes amount * percentage / 100 + fixed, rounded to 2 decimal places
func LateFee(amount, percentage, fixed decimal.Decimal) decimal.Decimal {
	fee := decimal.Zero
	if percentage.IsPositive() {
		fee = fee.Add(amount.Mul(percentage).Div(hundred))
	}
	if fixed.IsPositive() {
		fee = fee.Add(fixed)
	}
	return fee.Round(2)
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
