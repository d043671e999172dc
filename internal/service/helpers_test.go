package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"renttrack/internal/clients"
	"renttrack/internal/domain"
	"renttrack/internal/repository/memory"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return domain.NewDate(y, m, d)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (r *recorder) PublishLedgerEvent(ctx context.Context, ev domain.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store    *memory.Store
	redis    *clients.RedisClient
	mr       *miniredis.Miniredis
	events   *recorder
	opts     Options
	property domain.Property
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := clients.WrapRedis(rdb, "test")

	store := memory.New()
	events := &recorder{}
	f := &fixture{
		store:  store,
		redis:  rc,
		mr:     mr,
		events: events,
		opts: Options{
			Cache:      rc,
			Locker:     rc,
			Publishers: []EventPublisher{events},
			Retry:      RetryPolicy{MaxRetries: 3, Base: time.Millisecond},
			ArrearsTTL: time.Minute,
			Now:        func() time.Time { return testNow },
		},
	}
	f.property = store.AddProperty(domain.Property{
		Address:     "12 Elm Street",
		City:        "Springfield",
		PostalCode:  "12345",
		MonthlyRent: dec("1000.00"),
		IsActive:    true,
	})
	return f
}

func (f *fixture) charge(t *testing.T, amount string, due time.Time) domain.RentCharge {
	t.Helper()
	return f.chargeFor(t, f.property.ID, amount, due)
}

func (f *fixture) chargeFor(t *testing.T, propertyID int64, amount string, due time.Time) domain.RentCharge {
	t.Helper()
	start := time.Date(due.Year(), due.Month(), 1, 0, 0, 0, 0, time.UTC)
	return f.store.AddCharge(domain.RentCharge{
		PropertyID:  propertyID,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, -1),
		AmountDue:   dec(amount),
		DueDate:     due,
		Status:      domain.DeriveStatus(dec(amount), decimal.Zero, due, testNow),
	})
}

func (f *fixture) payment(t *testing.T, amount string) domain.Payment {
	t.Helper()
	return f.store.AddPayment(domain.Payment{
		PropertyID:  f.property.ID,
		Amount:      dec(amount),
		PaymentDate: day(2024, time.March, 10),
	})
}

func (f *fixture) allocations() *AllocationService {
	return NewAllocationService(f.store, f.opts)
}

func (f *fixture) status(t *testing.T, chargeID int64) domain.ChargeStatus {
	t.Helper()
	c, err := f.store.GetCharge(context.Background(), chargeID)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c.Status
}
