package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_PaysChargeInFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "1000.00")

	a, err := f.allocations().Allocate(ctx, p.ID, c.ID, dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, "1000.00", a.Amount.StringFixed(2))
	assert.Equal(t, domain.ChargeStatusPaid, f.status(t, c.ID))

	balance, err := f.allocations().Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	assert.Equal(t, []domain.EventType{domain.EventAllocationCreated, domain.EventChargeStatus}, f.events.types())
}

func TestAllocate_PartialAfterDueDateIsLate(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "1000.00", day(2024, time.March, 1))
	require.Equal(t, domain.ChargeStatusInArrears, c.Status)
	p := f.payment(t, "400.00")

	_, err := f.allocations().Allocate(context.Background(), p.ID, c.ID, dec("400"))
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusLate, f.status(t, c.ID))
}

func TestAllocate_PartialBeforeDueDateStaysCharged(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "1000.00", day(2024, time.March, 31))
	p := f.payment(t, "400.00")

	_, err := f.allocations().Allocate(context.Background(), p.ID, c.ID, dec("400"))
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusCharged, f.status(t, c.ID))
}

func TestAllocate_DueTodayIsNotOverdue(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "1000.00", day(2024, time.March, 15))
	assert.Equal(t, domain.ChargeStatusCharged, c.Status)
}

func TestAllocate_OverAllocationByOneCent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "500.00")
	svc := f.allocations()

	_, err := svc.Allocate(ctx, p.ID, c.ID, dec("300"))
	require.NoError(t, err)

	_, err = svc.Allocate(ctx, p.ID, c.ID, dec("200.01"))
	require.ErrorIs(t, err, domain.ErrOverAllocation)

	allocs, err := f.store.ListAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(p.ID)})
	require.NoError(t, err)
	assert.Len(t, allocs, 1)

	_, err = svc.Allocate(ctx, p.ID, c.ID, dec("200.00"))
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestAllocate_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "500.00")
	svc := f.allocations()

	for _, amount := range []string{"0", "-5", "0.004"} {
		_, err := svc.Allocate(context.Background(), p.ID, c.ID, dec(amount))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, amount)
	}
}

func TestAllocate_InvalidAmountDoesNotTouchStore(t *testing.T) {
	f := newFixture(t)
	touched := false
	f.store.SetTxHook(func(n int) error {
		touched = true
		return nil
	})

	_, err := f.allocations().Allocate(context.Background(), 1, 2, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.False(t, touched)
}

func TestAllocate_NotFound(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "500.00")
	svc := f.allocations()

	_, err := svc.Allocate(context.Background(), 9999, c.ID, dec("10"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Allocate(context.Background(), p.ID, 9999, dec("10"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAllocate_InvalidatesArrearsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "1000.00", day(2024, time.March, 1))
	p := f.payment(t, "250.00")

	arrears := NewArrearsService(f.store, f.opts)
	total, err := arrears.TotalArrears(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", total.StringFixed(2))
	assert.True(t, f.mr.Exists("test:"+arrearsTotalKey))

	_, err = f.allocations().Allocate(ctx, p.ID, c.ID, dec("250"))
	require.NoError(t, err)
	assert.False(t, f.mr.Exists("test:"+arrearsTotalKey))

	total, err = arrears.TotalArrears(ctx)
	require.NoError(t, err)
	assert.Equal(t, "750.00", total.StringFixed(2))
}

func TestAllocate_RetriesConflicts(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "500.00")

	f.store.SetTxHook(func(n int) error {
		if n <= 2 {
			return domain.ErrConcurrentConflict
		}
		return nil
	})

	a, err := f.allocations().Allocate(context.Background(), p.ID, c.ID, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", a.Amount.StringFixed(2))
}

func TestAllocate_SurfacesConflictAfterRetries(t *testing.T) {
	f := newFixture(t)
	c := f.charge(t, "1000.00", day(2024, time.March, 20))
	p := f.payment(t, "500.00")

	attempts := 0
	f.store.SetTxHook(func(n int) error {
		attempts++
		return domain.ErrConcurrentConflict
	})

	_, err := f.allocations().Allocate(context.Background(), p.ID, c.ID, dec("100"))
	require.ErrorIs(t, err, domain.ErrConcurrentConflict)
	assert.Equal(t, 4, attempts)
	assert.Empty(t, f.events.types())
}

func TestAllocate_NonConflictErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	boom := errors.New("boom")
	f.store.SetTxHook(func(n int) error {
		attempts++
		return boom
	})

	_, err := f.allocations().Allocate(context.Background(), 1, 2, dec("1"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestDeallocate_RestoresStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "1000.00", day(2024, time.March, 1))
	p := f.payment(t, "1000.00")
	svc := f.allocations()

	a, err := svc.Allocate(ctx, p.ID, c.ID, dec("1000"))
	require.NoError(t, err)
	require.Equal(t, domain.ChargeStatusPaid, f.status(t, c.ID))

	ok, err := svc.Deallocate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ChargeStatusInArrears, f.status(t, c.ID))

	balance, err := svc.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", balance.StringFixed(2))
}

func TestDeallocate_Missing(t *testing.T) {
	f := newFixture(t)

	ok, err := f.allocations().Deallocate(context.Background(), 424242)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.events.types())
}

func TestBalance_UnknownPaymentIsZero(t *testing.T) {
	f := newFixture(t)

	balance, err := f.allocations().Balance(context.Background(), 77)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestRecalculateChargeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.store.AddCharge(domain.RentCharge{
		PropertyID: f.property.ID,
		AmountDue:  dec("800.00"),
		DueDate:    day(2024, time.February, 1),
		Status:     domain.ChargeStatusCharged,
	})

	status, err := f.allocations().RecalculateChargeStatus(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusInArrears, status)
	assert.Equal(t, domain.ChargeStatusInArrears, f.status(t, c.ID))

	_, err = f.allocations().RecalculateChargeStatus(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAllocations_ConservePaymentAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.payment(t, "1000.00")
	svc := f.allocations()

	var charges []domain.RentCharge
	for i := 0; i < 4; i++ {
		charges = append(charges, f.charge(t, "300.00", day(2024, time.January+time.Month(i), 1)))
	}

	for _, c := range charges {
		_, _ = svc.Allocate(ctx, p.ID, c.ID, dec("300"))
	}

	sum, err := f.store.SumAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(p.ID)})
	require.NoError(t, err)
	assert.True(t, sum.LessThanOrEqual(p.Amount))
	assert.Equal(t, "900.00", sum.StringFixed(2))

	for _, c := range charges {
		allocated, err := f.store.SumAllocations(ctx, ledger.AllocationsFilter{RentChargeID: ledger.Int64Ptr(c.ID)})
		require.NoError(t, err)
		stored, err := f.store.GetCharge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DeriveStatus(c.AmountDue, allocated, c.DueDate, testNow), stored.Status)
	}
}

func TestAutoAllocate_OldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mar := f.charge(t, "1000.00", day(2024, time.March, 1))
	jan := f.charge(t, "1000.00", day(2024, time.January, 1))
	feb := f.charge(t, "1000.00", day(2024, time.February, 1))
	marStatus := f.status(t, mar.ID)
	p := f.payment(t, "1500.00")

	created := f.allocations().AutoAllocate(ctx, p.ID)
	require.Len(t, created, 2)

	assert.Equal(t, jan.ID, created[0].RentChargeID)
	assert.Equal(t, "1000.00", created[0].Amount.StringFixed(2))
	assert.Equal(t, feb.ID, created[1].RentChargeID)
	assert.Equal(t, "500.00", created[1].Amount.StringFixed(2))

	assert.Equal(t, domain.ChargeStatusPaid, f.status(t, jan.ID))
	assert.Equal(t, domain.ChargeStatusLate, f.status(t, feb.ID))

	onMar, err := f.store.SumAllocations(ctx, ledger.AllocationsFilter{RentChargeID: ledger.Int64Ptr(mar.ID)})
	require.NoError(t, err)
	assert.True(t, onMar.IsZero())
	assert.Equal(t, marStatus, f.status(t, mar.ID))
}

func TestAllocate_ConcurrentCallsNeverOverAllocate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	charges := []domain.RentCharge{
		f.charge(t, "1000.00", day(2024, time.January, 1)),
		f.charge(t, "1000.00", day(2024, time.February, 1)),
		f.charge(t, "1000.00", day(2024, time.April, 1)),
	}
	p := f.payment(t, "1000.00")
	svc := f.allocations()

	const calls = 20
	errs := make(chan error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(c domain.RentCharge) {
			defer wg.Done()
			_, err := svc.Allocate(ctx, p.ID, c.ID, dec("100.00"))
			errs <- err
		}(charges[i%len(charges)])
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrOverAllocation)
	}
	assert.Equal(t, 10, succeeded)

	sum, err := f.store.SumAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(p.ID)})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", sum.StringFixed(2))

	for _, c := range charges {
		allocated, err := f.store.SumAllocations(ctx, ledger.AllocationsFilter{RentChargeID: ledger.Int64Ptr(c.ID)})
		require.NoError(t, err)
		assert.Equal(t, domain.DeriveStatus(c.AmountDue, allocated, c.DueDate, testNow), f.status(t, c.ID))
	}
}

func TestAutoAllocate_TopsUpPartiallyPaidCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "1000.00", day(2024, time.January, 1))
	first := f.payment(t, "600.00")
	second := f.payment(t, "600.00")
	svc := f.allocations()

	_, err := svc.Allocate(ctx, first.ID, c.ID, dec("600"))
	require.NoError(t, err)

	created := svc.AutoAllocate(ctx, second.ID)
	require.Len(t, created, 1)
	assert.Equal(t, "400.00", created[0].Amount.StringFixed(2))

	balance, err := svc.Balance(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", balance.StringFixed(2))
}

func TestAutoAllocate_SkipsOtherPropertiesAndPaidCharges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.store.AddProperty(domain.Property{Address: "1 Oak Road", MonthlyRent: dec("500")})
	f.chargeFor(t, other.ID, "500.00", day(2023, time.December, 1))
	f.store.AddCharge(domain.RentCharge{
		PropertyID: f.property.ID,
		AmountDue:  dec("1000.00"),
		DueDate:    day(2023, time.December, 1),
		Status:     domain.ChargeStatusPaid,
	})
	target := f.charge(t, "1000.00", day(2024, time.March, 1))
	p := f.payment(t, "100.00")

	created := f.allocations().AutoAllocate(ctx, p.ID)
	require.Len(t, created, 1)
	assert.Equal(t, target.ID, created[0].RentChargeID)
}

func TestAutoAllocate_NothingToDo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.charge(t, "100.00", day(2024, time.January, 1))
	p := f.payment(t, "100.00")
	svc := f.allocations()

	_, err := svc.Allocate(ctx, p.ID, c.ID, dec("100"))
	require.NoError(t, err)

	assert.Empty(t, svc.AutoAllocate(ctx, p.ID))
	assert.Empty(t, svc.AutoAllocate(ctx, 9999))
}

func TestAutoAllocate_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jan := f.charge(t, "100.00", day(2024, time.January, 1))
	f.charge(t, "100.00", day(2024, time.February, 1))
	f.charge(t, "100.00", day(2024, time.March, 1))
	p := f.payment(t, "300.00")

	f.store.SetTxHook(func(n int) error {
		if n >= 2 {
			return errors.New("database went away")
		}
		return nil
	})

	created := f.allocations().AutoAllocate(ctx, p.ID)
	require.Len(t, created, 1)
	assert.Equal(t, jan.ID, created[0].RentChargeID)

	sum, err := f.store.SumAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(p.ID)})
	require.NoError(t, err)
	assert.Equal(t, "100.00", sum.StringFixed(2))
}

func TestAutoAllocate_LockHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.charge(t, "100.00", day(2024, time.January, 1))
	p := f.payment(t, "100.00")

	release, err := f.redis.Obtain(ctx, fmt.Sprintf("autoalloc:payment:%d", p.ID), time.Minute)
	require.NoError(t, err)

	assert.Empty(t, f.allocations().AutoAllocate(ctx, p.ID))

	require.NoError(t, release(ctx))
	assert.Len(t, f.allocations().AutoAllocate(ctx, p.ID), 1)
}

func TestAutoAllocate_ProceedsWithoutRedis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.charge(t, "100.00", day(2024, time.January, 1))
	p := f.payment(t, "100.00")

	f.mr.Close()

	created := f.allocations().AutoAllocate(ctx, p.ID)
	assert.Len(t, created, 1)
}
