package service

import (
	"context"
	"fmt"
	"time"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"
	"renttrack/internal/logging"

	"github.com/shopspring/decimal"
)

type NewCharge struct {
	PropertyID  int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	AmountDue   decimal.Decimal
	DueDate     time.Time
}

type ChargeService struct {
	store ledger.Store
	opts  Options
}

func NewChargeService(store ledger.Store, opts Options) *ChargeService {
	return &ChargeService{store: store, opts: opts.withDefaults()}
}

// RecordCharge stores a new charge with the status it derives to today.
func (s *ChargeService) RecordCharge(ctx context.Context, in NewCharge) (*domain.RentCharge, error) {
	amount := domain.Money(in.AmountDue)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("charge amount %s: %w", amount, domain.ErrInvalidAmount)
	}
	start, end := domain.DateOf(in.PeriodStart), domain.DateOf(in.PeriodEnd)
	if start.After(end) {
		return nil, domain.ErrInvalidPeriod
	}
	due := domain.DateOf(in.DueDate)

	var created *domain.RentCharge
	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		property, err := tx.GetProperty(ctx, in.PropertyID)
		if err != nil {
			return err
		}
		if property == nil {
			return fmt.Errorf("property %d: %w", in.PropertyID, domain.ErrNotFound)
		}

		c := &domain.RentCharge{
			PropertyID:  in.PropertyID,
			PeriodStart: start,
			PeriodEnd:   end,
			AmountDue:   amount,
			DueDate:     due,
			Status:      domain.DeriveStatus(amount, decimal.Zero, due, s.opts.today()),
		}
		if err := tx.CreateCharge(ctx, c); err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.opts.committed(ctx, "charge", domain.LedgerEvent{
		Type:         domain.EventChargeRecorded,
		PropertyID:   created.PropertyID,
		RentChargeID: created.ID,
		Amount:       decimalPtr(created.AmountDue),
		Status:       created.Status,
		OccurredAt:   s.opts.Now(),
	})
	return created, nil
}

// DeleteCharge removes a charge together with every allocation against it.
func (s *ChargeService) DeleteCharge(ctx context.Context, id int64) (bool, error) {
	var charge *domain.RentCharge

	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		charge, err = tx.LockCharge(ctx, id)
		if err != nil || charge == nil {
			return err
		}
		ok, err := tx.DeleteChargeCascade(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			charge = nil
		}
		return nil
	})
	if err != nil || charge == nil {
		return false, err
	}

	s.opts.committed(ctx, "charge", domain.LedgerEvent{
		Type:         domain.EventChargeDeleted,
		PropertyID:   charge.PropertyID,
		RentChargeID: charge.ID,
		OccurredAt:   s.opts.Now(),
	})
	return true, nil
}

// RefreshStatuses re-derives every unpaid charge whose stored status no
// longer matches today's date and returns how many were changed.
func (s *ChargeService) RefreshStatuses(ctx context.Context) (int, error) {
	charges, err := s.store.ListCharges(ctx, ledger.ChargesFilter{Statuses: domain.OutstandingStatuses})
	if err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(charges))
	for _, c := range charges {
		ids = append(ids, c.ID)
	}
	allocated, err := s.store.AllocatedByCharge(ctx, ids)
	if err != nil {
		return 0, err
	}

	today := s.opts.today()
	changed := 0
	for _, c := range charges {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		if domain.DeriveStatus(c.AmountDue, allocated[c.ID], c.DueDate, today) == c.Status {
			continue
		}

		var ev *domain.LedgerEvent
		err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
			ev = nil
			locked, err := tx.LockCharge(ctx, c.ID)
			if err != nil || locked == nil {
				return err
			}
			_, ok, err := rederive(ctx, tx, locked, today)
			if err != nil {
				return err
			}
			if ok {
				e := statusEvent(locked, s.opts.Now())
				ev = &e
			}
			return nil
		})
		if err != nil {
			logging.LogError(s.opts.Logger, "charge", "RefreshStatuses", "re-derive charge", c.ID, err)
			return changed, err
		}
		if ev != nil {
			changed++
			s.opts.committed(ctx, "charge", *ev)
		}
	}

	s.opts.Logger.WithField("changed", changed).Info("charge statuses refreshed")
	return changed, nil
}
