// Package ledger defines the persistence contract consumed by the allocation
// engine and the reports. Implementations must treat a missing record as a
// nil result with a nil error, and must run every Tx inside one database
// transaction.
package ledger

import (
	"context"
	"time"

	"renttrack/internal/domain"

	"github.com/shopspring/decimal"
)

type Order string

const (
	OrderDueDateAsc    Order = "due_date_asc"
	OrderDueDateDesc   Order = "due_date_desc"
	OrderCreatedAtDesc Order = "created_at_desc"
)

type ChargesFilter struct {
	PropertyID   *int64
	Statuses     []domain.ChargeStatus
	DueBefore    *time.Time
	DueFrom      *time.Time
	DueTo        *time.Time
	PeriodFrom   *time.Time
	PeriodTo     *time.Time
	CreatedSince *time.Time
	Order        Order
	Limit        int
}

type PaymentsFilter struct {
	PropertyID *int64
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
}

type AllocationsFilter struct {
	PaymentID    *int64
	RentChargeID *int64
	PropertyID   *int64
}

type TenantsFilter struct {
	PropertyID  *int64
	CurrentOnly bool
}

type Reader interface {
	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	GetCharge(ctx context.Context, id int64) (*domain.RentCharge, error)
	GetAllocation(ctx context.Context, id int64) (*domain.PaymentAllocation, error)
	GetProperty(ctx context.Context, id int64) (*domain.Property, error)
	GetTenant(ctx context.Context, id int64) (*domain.Tenant, error)

	ListPayments(ctx context.Context, f PaymentsFilter) ([]domain.Payment, error)
	ListCharges(ctx context.Context, f ChargesFilter) ([]domain.RentCharge, error)
	ListAllocations(ctx context.Context, f AllocationsFilter) ([]domain.PaymentAllocation, error)
	ListTenants(ctx context.Context, f TenantsFilter) ([]domain.Tenant, error)
	ListProperties(ctx context.Context) ([]domain.Property, error)

	// SumAllocations returns the sum of allocation amounts matching f, zero if none.
	SumAllocations(ctx context.Context, f AllocationsFilter) (decimal.Decimal, error)
	// AllocatedByCharge returns allocation totals keyed by charge id. Charges
	// without allocations are absent from the map.
	AllocatedByCharge(ctx context.Context, chargeIDs []int64) (map[int64]decimal.Decimal, error)
}

type Tx interface {
	Reader

	// LockPayment and LockCharge read the row and hold a write lock on it
	// until the transaction ends.
	LockPayment(ctx context.Context, id int64) (*domain.Payment, error)
	LockCharge(ctx context.Context, id int64) (*domain.RentCharge, error)

	CreateCharge(ctx context.Context, c *domain.RentCharge) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	CreateAllocation(ctx context.Context, a *domain.PaymentAllocation) error
	UpdateChargeStatus(ctx context.Context, id int64, status domain.ChargeStatus) error

	DeleteAllocation(ctx context.Context, id int64) (bool, error)
	// DeletePaymentCascade removes the payment and its allocations and returns
	// the ids of the charges those allocations referenced.
	DeletePaymentCascade(ctx context.Context, id int64) ([]int64, error)
	DeleteChargeCascade(ctx context.Context, id int64) (bool, error)
}

type Store interface {
	Reader

	// WithinTx commits when fn returns nil and rolls back otherwise,
	// including when fn panics.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

func Int64Ptr(v int64) *int64 {
	return &v
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
