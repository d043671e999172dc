package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"

	"github.com/shopspring/decimal"
)

type NewPayment struct {
	PropertyID  int64
	Amount      decimal.Decimal
	PaymentDate time.Time
	Notes       *string
}

// PaymentUpdate holds the fields to change; nil fields are kept.
type PaymentUpdate struct {
	Amount      *decimal.Decimal
	PaymentDate *time.Time
	Notes       *string
}

type PaymentService struct {
	store ledger.Store
	opts  Options
}

func NewPaymentService(store ledger.Store, opts Options) *PaymentService {
	return &PaymentService{store: store, opts: opts.withDefaults()}
}

func (s *PaymentService) RecordPayment(ctx context.Context, in NewPayment) (*domain.Payment, error) {
	amount := domain.Money(in.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payment amount %s: %w", amount, domain.ErrInvalidAmount)
	}

	var created *domain.Payment
	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		property, err := tx.GetProperty(ctx, in.PropertyID)
		if err != nil {
			return err
		}
		if property == nil {
			return fmt.Errorf("property %d: %w", in.PropertyID, domain.ErrNotFound)
		}

		p := &domain.Payment{
			PropertyID:  in.PropertyID,
			Amount:      amount,
			PaymentDate: domain.DateOf(in.PaymentDate),
			Notes:       in.Notes,
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.opts.committed(ctx, "payment", domain.LedgerEvent{
		Type:       domain.EventPaymentRecorded,
		PropertyID: created.PropertyID,
		PaymentID:  created.ID,
		Amount:     decimalPtr(created.Amount),
		OccurredAt: s.opts.Now(),
	})
	return created, nil
}

// UpdatePayment changes a payment. The amount may not drop below what is
// already allocated from it.
func (s *PaymentService) UpdatePayment(ctx context.Context, id int64, upd PaymentUpdate) (*domain.Payment, error) {
	var newAmount decimal.Decimal
	if upd.Amount != nil {
		newAmount = domain.Money(*upd.Amount)
		if !newAmount.IsPositive() {
			return nil, fmt.Errorf("payment amount %s: %w", newAmount, domain.ErrInvalidAmount)
		}
	}

	var updated *domain.Payment
	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("payment %d: %w", id, domain.ErrNotFound)
		}

		if upd.Amount != nil {
			allocated, err := tx.SumAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(id)})
			if err != nil {
				return err
			}
			if newAmount.LessThan(allocated) {
				return fmt.Errorf("payment %d has %s allocated, cannot reduce to %s: %w",
					id, allocated.StringFixed(domain.CurrencyScale), newAmount.StringFixed(domain.CurrencyScale), domain.ErrOverAllocation)
			}
			p.Amount = newAmount
		}
		if upd.PaymentDate != nil {
			p.PaymentDate = domain.DateOf(*upd.PaymentDate)
		}
		if upd.Notes != nil {
			p.Notes = upd.Notes
		}

		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.opts.committed(ctx, "payment", domain.LedgerEvent{
		Type:       domain.EventPaymentUpdated,
		PropertyID: updated.PropertyID,
		PaymentID:  updated.ID,
		Amount:     decimalPtr(updated.Amount),
		OccurredAt: s.opts.Now(),
	})
	return updated, nil
}

// DeletePayment removes a payment with its allocations and re-derives every
// charge those allocations covered, in one transaction.
func (s *PaymentService) DeletePayment(ctx context.Context, id int64) (bool, error) {
	var (
		deleted bool
		events  []domain.LedgerEvent
	)

	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		deleted = false
		events = events[:0]

		p, err := tx.LockPayment(ctx, id)
		if err != nil || p == nil {
			return err
		}

		chargeIDs, err := tx.DeletePaymentCascade(ctx, id)
		if err != nil {
			return err
		}
		deleted = true

		now := s.opts.Now()
		events = append(events, domain.LedgerEvent{
			Type:       domain.EventPaymentDeleted,
			PropertyID: p.PropertyID,
			PaymentID:  id,
			Amount:     decimalPtr(p.Amount),
			OccurredAt: now,
		})

		sort.Slice(chargeIDs, func(i, j int) bool { return chargeIDs[i] < chargeIDs[j] })
		for _, cid := range chargeIDs {
			charge, err := tx.LockCharge(ctx, cid)
			if err != nil {
				return err
			}
			if charge == nil {
				continue
			}
			_, changed, err := rederive(ctx, tx, charge, s.opts.today())
			if err != nil {
				return err
			}
			if changed {
				events = append(events, statusEvent(charge, now))
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		s.opts.committed(ctx, "payment", events...)
	}
	return deleted, nil
}

// ListPayments returns payments most recent first.
func (s *PaymentService) ListPayments(ctx context.Context, f ledger.PaymentsFilter) ([]domain.Payment, error) {
	return s.store.ListPayments(ctx, f)
}

func (s *PaymentService) PaymentDetail(ctx context.Context, id int64) (*domain.PaymentDetail, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("payment %d: %w", id, domain.ErrNotFound)
	}

	allocations, err := s.store.ListAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(id)})
	if err != nil {
		return nil, err
	}

	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Amount)
	}

	return &domain.PaymentDetail{
		Payment:     *p,
		Allocations: allocations,
		Allocated:   allocated,
		Balance:     p.Amount.Sub(allocated),
	}, nil
}
