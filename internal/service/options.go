package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"
	"renttrack/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	arrearsTotalKey      = "arrears:total"
	arrearsGenerationKey = "arrears:generation"
)

// Cache is the key/value store backing the arrears total. Every ledger change
// bumps a generation counter, and a computed total is only written back while
// the generation it was computed under is still current.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	SetIfUnchanged(ctx context.Context, key string, value any, ttl time.Duration, guard, version string) (bool, error)
}

// Locker hands out advisory locks. Obtain returns clients.ErrLockNotObtained
// when the key is held elsewhere.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev domain.LedgerEvent) error
}

// RetryPolicy bounds the retries of transactions failing with
// domain.ErrConcurrentConflict. Delays double from Base.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
}

type Options struct {
	Logger     logrus.FieldLogger
	Cache      Cache
	Locker     Locker
	Publishers []EventPublisher
	Retry      RetryPolicy
	ArrearsTTL time.Duration
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Retry.MaxRetries < 0 {
		o.Retry.MaxRetries = 0
	}
	if o.Retry.Base <= 0 {
		o.Retry.Base = 25 * time.Millisecond
	}
	if o.ArrearsTTL <= 0 {
		o.ArrearsTTL = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) today() time.Time {
	return domain.DateOf(o.Now())
}

// withinTx runs fn in a store transaction and retries it while the store
// reports a lock conflict.
func (o Options) withinTx(ctx context.Context, store ledger.Store, fn func(ctx context.Context, tx ledger.Tx) error) error {
	delay := o.Retry.Base
	for attempt := 0; ; attempt++ {
		err := store.WithinTx(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrConcurrentConflict) {
			return err
		}
		if attempt >= o.Retry.MaxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt+1, err)
		}

		o.Logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("ledger transaction conflicted, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// committed runs the side effects of a committed ledger change. Failures are
// logged and never returned.
func (o Options) committed(ctx context.Context, module string, events ...domain.LedgerEvent) {
	if o.Cache != nil {
		if _, err := o.Cache.Incr(ctx, arrearsGenerationKey); err != nil {
			logging.LogError(o.Logger, module, "committed", "bump arrears generation", nil, err)
		}
		if err := o.Cache.Del(ctx, arrearsTotalKey); err != nil {
			logging.LogError(o.Logger, module, "committed", "invalidate arrears cache", nil, err)
		}
	}
	for _, ev := range events {
		for _, p := range o.Publishers {
			if err := p.PublishLedgerEvent(ctx, ev); err != nil {
				logging.LogError(o.Logger, module, "committed", "publish ledger event", ev, err)
			}
		}
	}
}

// rederive recomputes the status of a charge from its allocations and
// persists it when it changed. The charge row must already be locked by tx.
func rederive(ctx context.Context, tx ledger.Tx, charge *domain.RentCharge, today time.Time) (domain.ChargeStatus, bool, error) {
	allocated, err := tx.SumAllocations(ctx, ledger.AllocationsFilter{RentChargeID: ledger.Int64Ptr(charge.ID)})
	if err != nil {
		return "", false, err
	}

	status := domain.DeriveStatus(charge.AmountDue, allocated, charge.DueDate, today)
	if status == charge.Status {
		return status, false, nil
	}
	if err := tx.UpdateChargeStatus(ctx, charge.ID, status); err != nil {
		return "", false, err
	}
	charge.Status = status
	return status, true, nil
}

func statusEvent(charge *domain.RentCharge, at time.Time) domain.LedgerEvent {
	return domain.LedgerEvent{
		Type:         domain.EventChargeStatus,
		PropertyID:   charge.PropertyID,
		RentChargeID: charge.ID,
		Status:       charge.Status,
		OccurredAt:   at,
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
