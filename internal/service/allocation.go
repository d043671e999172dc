package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"renttrack/internal/clients"
	"renttrack/internal/domain"
	"renttrack/internal/ledger"
	"renttrack/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const autoAllocateLockTTL = 30 * time.Second

// AllocationService matches payments to rent charges and keeps charge
// statuses derived from their allocations.
type AllocationService struct {
	store ledger.Store
	opts  Options
}

func NewAllocationService(store ledger.Store, opts Options) *AllocationService {
	return &AllocationService{store: store, opts: opts.withDefaults()}
}

// Allocate applies amount of a payment to a charge. The payment row is locked
// before the charge row, so allocations of the same payment serialise on the
// remaining-balance check and allocations to the same charge serialise on the
// status derivation.
func (s *AllocationService) Allocate(ctx context.Context, paymentID, chargeID int64, amount decimal.Decimal) (*domain.PaymentAllocation, error) {
	amount = domain.Money(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("allocate %s: %w", amount, domain.ErrInvalidAmount)
	}

	var (
		created *domain.PaymentAllocation
		events  []domain.LedgerEvent
	)

	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		events = events[:0]

		payment, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return fmt.Errorf("payment %d: %w", paymentID, domain.ErrNotFound)
		}

		charge, err := tx.LockCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if charge == nil {
			return fmt.Errorf("charge %d: %w", chargeID, domain.ErrNotFound)
		}

		allocated, err := tx.SumAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(paymentID)})
		if err != nil {
			return err
		}
		remaining := payment.Amount.Sub(allocated)
		if amount.GreaterThan(remaining) {
			return fmt.Errorf("allocate %s from payment %d with %s remaining: %w",
				amount.StringFixed(domain.CurrencyScale), paymentID, remaining.StringFixed(domain.CurrencyScale), domain.ErrOverAllocation)
		}

		a := &domain.PaymentAllocation{
			PaymentID:    paymentID,
			RentChargeID: chargeID,
			Amount:       amount,
		}
		if err := tx.CreateAllocation(ctx, a); err != nil {
			return err
		}

		_, changed, err := rederive(ctx, tx, charge, s.opts.today())
		if err != nil {
			return err
		}

		now := s.opts.Now()
		events = append(events, domain.LedgerEvent{
			Type:         domain.EventAllocationCreated,
			PropertyID:   charge.PropertyID,
			PaymentID:    paymentID,
			RentChargeID: chargeID,
			AllocationID: a.ID,
			Amount:       decimalPtr(a.Amount),
			Status:       charge.Status,
			OccurredAt:   now,
		})
		if changed {
			events = append(events, statusEvent(charge, now))
		}

		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.opts.committed(ctx, "allocation", events...)
	return created, nil
}

// Deallocate removes an allocation and re-derives the status of its charge.
// A missing allocation is reported as false with no error.
func (s *AllocationService) Deallocate(ctx context.Context, allocationID int64) (bool, error) {
	var (
		deleted bool
		events  []domain.LedgerEvent
	)

	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		deleted = false
		events = events[:0]

		a, err := tx.GetAllocation(ctx, allocationID)
		if err != nil || a == nil {
			return err
		}

		if _, err := tx.LockPayment(ctx, a.PaymentID); err != nil {
			return err
		}
		charge, err := tx.LockCharge(ctx, a.RentChargeID)
		if err != nil {
			return err
		}

		ok, err := tx.DeleteAllocation(ctx, allocationID)
		if err != nil || !ok {
			return err
		}
		deleted = true

		now := s.opts.Now()
		ev := domain.LedgerEvent{
			Type:         domain.EventAllocationDeleted,
			PaymentID:    a.PaymentID,
			RentChargeID: a.RentChargeID,
			AllocationID: a.ID,
			Amount:       decimalPtr(a.Amount),
			OccurredAt:   now,
		}
		if charge == nil {
			events = append(events, ev)
			return nil
		}

		_, changed, err := rederive(ctx, tx, charge, s.opts.today())
		if err != nil {
			return err
		}
		ev.PropertyID = charge.PropertyID
		ev.Status = charge.Status
		events = append(events, ev)
		if changed {
			events = append(events, statusEvent(charge, now))
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		s.opts.committed(ctx, "allocation", events...)
	}
	return deleted, nil
}

// Balance returns the unallocated part of a payment, zero for an unknown payment.
func (s *AllocationService) Balance(ctx context.Context, paymentID int64) (decimal.Decimal, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return decimal.Zero, err
	}
	if payment == nil {
		return decimal.Zero, nil
	}

	allocated, err := s.store.SumAllocations(ctx, ledger.AllocationsFilter{PaymentID: ledger.Int64Ptr(paymentID)})
	if err != nil {
		return decimal.Zero, err
	}
	return payment.Amount.Sub(allocated), nil
}

// RecalculateChargeStatus re-derives and persists the status of one charge.
func (s *AllocationService) RecalculateChargeStatus(ctx context.Context, chargeID int64) (domain.ChargeStatus, error) {
	var (
		status domain.ChargeStatus
		events []domain.LedgerEvent
	)

	err := s.opts.withinTx(ctx, s.store, func(ctx context.Context, tx ledger.Tx) error {
		events = events[:0]

		charge, err := tx.LockCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if charge == nil {
			return fmt.Errorf("charge %d: %w", chargeID, domain.ErrNotFound)
		}

		var changed bool
		status, changed, err = rederive(ctx, tx, charge, s.opts.today())
		if err != nil {
			return err
		}
		if changed {
			events = append(events, statusEvent(charge, s.opts.Now()))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(events) > 0 {
		s.opts.committed(ctx, "allocation", events...)
	}
	return status, nil
}

// AutoAllocate spreads the unallocated balance of a payment over the
// outstanding charges of its property, oldest due date first. Each allocation
// commits on its own; the first failure ends the run and the allocations made
// so far are returned. It never returns an error.
func (s *AllocationService) AutoAllocate(ctx context.Context, paymentID int64) []domain.PaymentAllocation {
	created := []domain.PaymentAllocation{}
	log := s.opts.Logger.WithField("payment_id", paymentID)

	if s.opts.Locker != nil {
		release, err := s.opts.Locker.Obtain(ctx, fmt.Sprintf("autoalloc:payment:%d", paymentID), autoAllocateLockTTL)
		switch {
		case errors.Is(err, clients.ErrLockNotObtained):
			log.Warn("auto-allocation already running for payment")
			return created
		case err != nil:
			log.WithError(err).Warn("error obtaining auto-allocation lock; proceeding without it")
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.WithError(err).Warn("release auto-allocation lock")
				}
			}()
		}
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		logging.LogError(s.opts.Logger, "allocation", "AutoAllocate", "load payment", paymentID, err)
		return created
	}
	if payment == nil {
		return created
	}

	balance, err := s.Balance(ctx, paymentID)
	if err != nil {
		logging.LogError(s.opts.Logger, "allocation", "AutoAllocate", "payment balance", paymentID, err)
		return created
	}
	if !balance.IsPositive() {
		return created
	}

	charges, err := s.store.ListCharges(ctx, ledger.ChargesFilter{
		PropertyID: ledger.Int64Ptr(payment.PropertyID),
		Statuses:   domain.OutstandingStatuses,
		Order:      ledger.OrderDueDateAsc,
	})
	if err != nil {
		logging.LogError(s.opts.Logger, "allocation", "AutoAllocate", "list outstanding charges", payment.PropertyID, err)
		return created
	}

	for _, charge := range charges {
		if !balance.IsPositive() {
			break
		}

		allocated, err := s.store.SumAllocations(ctx, ledger.AllocationsFilter{RentChargeID: ledger.Int64Ptr(charge.ID)})
		if err != nil {
			logging.LogError(s.opts.Logger, "allocation", "AutoAllocate", "charge allocations", charge.ID, err)
			break
		}
		outstanding := charge.Outstanding(allocated)
		if !outstanding.IsPositive() {
			continue
		}

		a, err := s.Allocate(ctx, paymentID, charge.ID, decimal.Min(balance, outstanding))
		if err != nil {
			logging.LogError(s.opts.Logger, "allocation", "AutoAllocate", "allocate", logrus.Fields{
				"payment_id": paymentID,
				"charge_id":  charge.ID,
			}, err)
			break
		}

		created = append(created, *a)
		balance = balance.Sub(a.Amount)
	}

	log.WithField("allocations", len(created)).Info("auto-allocation finished")
	return created
}
