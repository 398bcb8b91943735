package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeriveStatus evaluates an invoice's status from scratch. It depends only on
// its arguments, so repeated evaluation over the same payment set agrees
// regardless of the order payments arrived in.
//
// Cancelled is terminal. A paid sum reaching the total is paid, any positive
// sum is partial and nothing paid is unpaid. A non-paid invoice whose due date
// is before today's calendar date is overdue.
func DeriveStatus(current Status, total, paid decimal.Decimal, due, now time.Time) Status {
	if current == StatusCancelled {
		return StatusCancelled
	}
	if paid.GreaterThanOrEqual(total) {
		return StatusPaid
	}
	if calendarDate(now).After(calendarDate(due)) {
		return StatusOverdue
	}
	if paid.IsPositive() {
		return StatusPartial
	}
	return StatusUnpaid
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

const DateLayout = "2006-01-02"
