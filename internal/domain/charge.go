package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChargeStatus string

const (
	ChargeStatusCharged   ChargeStatus = "charged"
	ChargeStatusPaid      ChargeStatus = "paid"
	ChargeStatusLate      ChargeStatus = "late"
	ChargeStatusInArrears ChargeStatus = "in_arrears"
)

// OutstandingStatuses are the statuses of charges that may still receive allocations.
var OutstandingStatuses = []ChargeStatus{ChargeStatusCharged, ChargeStatusLate, ChargeStatusInArrears}

// OverdueStatuses are the statuses counted as arrears.
var OverdueStatuses = []ChargeStatus{ChargeStatusLate, ChargeStatusInArrears}

func (s ChargeStatus) Valid() bool {
	switch s {
	case ChargeStatusCharged, ChargeStatusPaid, ChargeStatusLate, ChargeStatusInArrears:
		return true
	}
	return false
}

func (s ChargeStatus) IsOutstanding() bool {
	return s == ChargeStatusCharged || s == ChargeStatusLate || s == ChargeStatusInArrears
}

func (s ChargeStatus) IsOverdue() bool {
	return s == ChargeStatusLate || s == ChargeStatusInArrears
}

type RentCharge struct {
	ID         int64
	PropertyID int64

	PeriodStart time.Time
	PeriodEnd   time.Time

	AmountDue decimal.Decimal
	DueDate   time.Time
	Status    ChargeStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outstanding returns the part of the charge not covered by allocated, never below zero.
func (c RentCharge) Outstanding(allocated decimal.Decimal) decimal.Decimal {
	rest := c.AmountDue.Sub(allocated)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// DeriveStatus maps a charge's allocation total and due date to its state.
// Rules are evaluated in order and the first match wins:
//
//	allocated >= amountDue            -> paid
//	allocated > 0 and today > dueDate -> late
//	allocated == 0 and today > dueDate -> in_arrears
//	otherwise                          -> charged
//
// Dates are compared at day granularity.
func DeriveStatus(amountDue, totalAllocated decimal.Decimal, dueDate, today time.Time) ChargeStatus {
	overdue := DateOf(today).After(DateOf(dueDate))

	switch {
	case totalAllocated.GreaterThanOrEqual(amountDue):
		return ChargeStatusPaid
	case totalAllocated.IsPositive() && overdue:
		return ChargeStatusLate
	case totalAllocated.IsZero() && overdue:
		return ChargeStatusInArrears
	default:
		return ChargeStatusCharged
	}
}
