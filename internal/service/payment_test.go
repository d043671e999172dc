package service

import (
	"context"
	"testing"
	"time"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	svc := NewPaymentService(f.store, f.opts)
	notes := "bank transfer"

	p, err := svc.RecordPayment(context.Background(), NewPayment{
		PropertyID:  f.property.ID,
		Amount:      dec("750.50"),
		PaymentDate: day(2024, time.March, 14),
		Notes:       &notes,
	})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, "750.50", p.Amount.StringFixed(2))
	assert.Equal(t, []domain.EventType{domain.EventPaymentRecorded}, f.events.types())

	_, err = svc.RecordPayment(context.Background(), NewPayment{PropertyID: f.property.ID, Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.RecordPayment(context.Background(), NewPayment{PropertyID: 9999, Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdatePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "500.00")
	svc := NewPaymentService(f.store, f.opts)

	_, err := f.allocations().Allocate(ctx, p.ID, c.ID, dec("300"))
	require.NoError(t, err)

	below := dec("299.99")
	_, err = svc.UpdatePayment(ctx, p.ID, PaymentUpdate{Amount: &below})
	require.ErrorIs(t, err, domain.ErrOverAllocation)

	exact := dec("300")
	date := day(2024, time.March, 12)
	notes := "corrected"
	updated, err := svc.UpdatePayment(ctx, p.ID, PaymentUpdate{Amount: &exact, PaymentDate: &date, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "300.00", updated.Amount.StringFixed(2))
	assert.Equal(t, date, updated.PaymentDate)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, "corrected", *updated.Notes)

	_, err = svc.UpdatePayment(ctx, 9999, PaymentUpdate{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeletePayment_ReDerivesCharges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jan := f.charge(t, "500.00", day(2024, time.January, 1))
	feb := f.charge(t, "500.00", day(2024, time.February, 1))
	p := f.payment(t, "800.00")

	created := f.allocations().AutoAllocate(ctx, p.ID)
	require.Len(t, created, 2)
	require.Equal(t, domain.ChargeStatusPaid, f.status(t, jan.ID))
	require.Equal(t, domain.ChargeStatusLate, f.status(t, feb.ID))

	svc := NewPaymentService(f.store, f.opts)
	ok, err := svc.DeletePayment(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, domain.ChargeStatusInArrears, f.status(t, jan.ID))
	assert.Equal(t, domain.ChargeStatusInArrears, f.status(t, feb.ID))

	allocs, err := f.store.ListAllocations(ctx, ledger.AllocationsFilter{})
	require.NoError(t, err)
	assert.Empty(t, allocs)

	ok, err = svc.DeletePayment(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaymentDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "500.00")
	svc := NewPaymentService(f.store, f.opts)

	_, err := f.allocations().Allocate(ctx, p.ID, c.ID, dec("120.25"))
	require.NoError(t, err)

	detail, err := svc.PaymentDetail(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Allocations, 1)
	assert.Equal(t, "120.25", detail.Allocated.StringFixed(2))
	assert.Equal(t, "379.75", detail.Balance.StringFixed(2))

	_, err = svc.PaymentDetail(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPayments_MostRecentFirst(t *testing.T) {
	f := newFixture(t)
	older := f.store.AddPayment(domain.Payment{PropertyID: f.property.ID, Amount: dec("1"), PaymentDate: day(2024, time.January, 5)})
	newer := f.store.AddPayment(domain.Payment{PropertyID: f.property.ID, Amount: dec("1"), PaymentDate: day(2024, time.February, 5)})

	got, err := NewPaymentService(f.store, f.opts).ListPayments(context.Background(), ledger.PaymentsFilter{
		PropertyID: ledger.Int64Ptr(f.property.ID),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}
