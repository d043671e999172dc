package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TenantArrears is one row of the arrears report.
type TenantArrears struct {
	Tenant           Tenant
	Property         Property
	Charges          []RentCharge
	TotalOutstanding decimal.Decimal
	OldestDueDate    time.Time
	DaysOverdue      int
	HasEmail         bool
}

type OutstandingCharge struct {
	Charge      RentCharge
	Allocated   decimal.Decimal
	Outstanding decimal.Decimal
}

type PaymentDetail struct {
	Payment     Payment
	Allocations []PaymentAllocation
	Allocated   decimal.Decimal
	Balance     decimal.Decimal
}

type PropertyStatement struct {
	Property       Property
	Tenants        []Tenant
	CurrentTenants []Tenant
	Payments       []Payment
	Charges        []RentCharge
	TotalPayments  decimal.Decimal
	TotalCharges   decimal.Decimal
	Balance        decimal.Decimal
}

type DashboardSummary struct {
	TotalProperties     int
	TotalTenants        int
	MonthlyRentExpected decimal.Decimal
	TotalArrears        decimal.Decimal
	RecentPayments      []Payment
	UpcomingCharges     []RentCharge
	RecentCharges       []RentCharge
	ChargesByStatus     map[ChargeStatus]int
}

type FinancialSummary struct {
	StartDate     time.Time
	EndDate       time.Time
	TotalReceived decimal.Decimal
	TotalCharged  decimal.Decimal
	Outstanding   decimal.Decimal
	PaymentCount  int
	ChargeCount   int
}

// MonthlyPayments is one month of a payment timeline. Month is the first day
// of the month.
type MonthlyPayments struct {
	Month        time.Time
	PaymentCount int
	Total        decimal.Decimal
}

type PropertyOccupancy struct {
	Property    Property
	IsOccupied  bool
	TenantCount int
	Tenants     []Tenant
}

type TenantPaymentHistory struct {
	Tenant      Tenant
	Property    Property
	Charges     []RentCharge
	Allocations []PaymentAllocation
	TotalPaid   decimal.Decimal
	MoveIn      time.Time
	MoveOut     *time.Time
}
