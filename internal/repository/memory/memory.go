// Package memory is an in-process ledger.Store. Transactions are serialised
// by a single mutex and applied copy-on-write, so a failed transaction leaves
// no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu     sync.Mutex
	st     *state
	txHook func(n int) error
	txN    int
	now    func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetTxHook installs fn to run before every transaction; a non-nil error
// aborts that transaction. n counts transactions from 1.
func (s *Store) SetTxHook(fn func(n int) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txHook = fn
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.txN++
	if s.txHook != nil {
		if err := s.txHook(s.txN); err != nil {
			return err
		}
	}

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// AddProperty, AddTenant, AddCharge and AddPayment seed records outside the
// engine and assign ids when zero.
func (s *Store) AddProperty(p domain.Property) domain.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.st.seq++
		p.ID = s.st.seq
	}
	s.st.properties[p.ID] = p
	return p
}

func (s *Store) AddTenant(t domain.Tenant) domain.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		s.st.seq++
		t.ID = s.st.seq
	}
	s.st.tenants[t.ID] = t
	return t
}

func (s *Store) AddCharge(c domain.RentCharge) domain.RentCharge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.st.seq++
		c.ID = s.st.seq
	}
	if c.Status == "" {
		c.Status = domain.ChargeStatusCharged
	}
	s.st.charges[c.ID] = c
	return c
}

func (s *Store) AddPayment(p domain.Payment) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.st.seq++
		p.ID = s.st.seq
	}
	s.st.payments[p.ID] = p
	return p
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getPayment(id), nil
}

func (s *Store) GetCharge(ctx context.Context, id int64) (*domain.RentCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getCharge(id), nil
}

func (s *Store) GetAllocation(ctx context.Context, id int64) (*domain.PaymentAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getAllocation(id), nil
}

func (s *Store) GetProperty(ctx context.Context, id int64) (*domain.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getProperty(id), nil
}

func (s *Store) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getTenant(id), nil
}

func (s *Store) ListPayments(ctx context.Context, f ledger.PaymentsFilter) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listPayments(f), nil
}

func (s *Store) ListCharges(ctx context.Context, f ledger.ChargesFilter) ([]domain.RentCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listCharges(f), nil
}

func (s *Store) ListAllocations(ctx context.Context, f ledger.AllocationsFilter) ([]domain.PaymentAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listAllocations(f), nil
}

func (s *Store) ListTenants(ctx context.Context, f ledger.TenantsFilter) ([]domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listTenants(f), nil
}

func (s *Store) ListProperties(ctx context.Context) ([]domain.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listProperties(), nil
}

func (s *Store) SumAllocations(ctx context.Context, f ledger.AllocationsFilter) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sumAllocations(f), nil
}

func (s *Store) AllocatedByCharge(ctx context.Context, chargeIDs []int64) (map[int64]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.allocatedByCharge(chargeIDs), nil
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return t.st.getPayment(id), nil
}

func (t *tx) GetCharge(ctx context.Context, id int64) (*domain.RentCharge, error) {
	return t.st.getCharge(id), nil
}

func (t *tx) GetAllocation(ctx context.Context, id int64) (*domain.PaymentAllocation, error) {
	return t.st.getAllocation(id), nil
}

func (t *tx) GetProperty(ctx context.Context, id int64) (*domain.Property, error) {
	return t.st.getProperty(id), nil
}

func (t *tx) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	return t.st.getTenant(id), nil
}

func (t *tx) ListPayments(ctx context.Context, f ledger.PaymentsFilter) ([]domain.Payment, error) {
	return t.st.listPayments(f), nil
}

func (t *tx) ListCharges(ctx context.Context, f ledger.ChargesFilter) ([]domain.RentCharge, error) {
	return t.st.listCharges(f), nil
}

func (t *tx) ListAllocations(ctx context.Context, f ledger.AllocationsFilter) ([]domain.PaymentAllocation, error) {
	return t.st.listAllocations(f), nil
}

func (t *tx) ListTenants(ctx context.Context, f ledger.TenantsFilter) ([]domain.Tenant, error) {
	return t.st.listTenants(f), nil
}

func (t *tx) ListProperties(ctx context.Context) ([]domain.Property, error) {
	return t.st.listProperties(), nil
}

func (t *tx) SumAllocations(ctx context.Context, f ledger.AllocationsFilter) (decimal.Decimal, error) {
	return t.st.sumAllocations(f), nil
}

func (t *tx) AllocatedByCharge(ctx context.Context, chargeIDs []int64) (map[int64]decimal.Decimal, error) {
	return t.st.allocatedByCharge(chargeIDs), nil
}

// The store lock is held for the whole transaction, so row locks are implicit.
func (t *tx) LockPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return t.st.getPayment(id), nil
}

func (t *tx) LockCharge(ctx context.Context, id int64) (*domain.RentCharge, error) {
	return t.st.getCharge(id), nil
}

func (t *tx) CreateCharge(ctx context.Context, c *domain.RentCharge) error {
	if _, ok := t.st.properties[c.PropertyID]; !ok {
		return fmt.Errorf("create charge: property %d: %w", c.PropertyID, domain.ErrNotFound)
	}
	t.st.seq++
	c.ID = t.st.seq
	c.CreatedAt = t.now()
	c.UpdatedAt = c.CreatedAt
	t.st.charges[c.ID] = *c
	return nil
}

func (t *tx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if _, ok := t.st.properties[p.PropertyID]; !ok {
		return fmt.Errorf("create payment: property %d: %w", p.PropertyID, domain.ErrNotFound)
	}
	t.st.seq++
	p.ID = t.st.seq
	p.CreatedAt = t.now()
	p.UpdatedAt = p.CreatedAt
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	cur, ok := t.st.payments[p.ID]
	if !ok {
		return fmt.Errorf("update payment %d: %w", p.ID, domain.ErrNotFound)
	}
	cur.Amount = p.Amount
	cur.PaymentDate = p.PaymentDate
	cur.Notes = p.Notes
	cur.UpdatedAt = t.now()
	t.st.payments[p.ID] = cur
	*p = cur
	return nil
}

func (t *tx) CreateAllocation(ctx context.Context, a *domain.PaymentAllocation) error {
	if _, ok := t.st.payments[a.PaymentID]; !ok {
		return fmt.Errorf("create allocation: payment %d: %w", a.PaymentID, domain.ErrNotFound)
	}
	if _, ok := t.st.charges[a.RentChargeID]; !ok {
		return fmt.Errorf("create allocation: charge %d: %w", a.RentChargeID, domain.ErrNotFound)
	}
	t.st.seq++
	a.ID = t.st.seq
	a.CreatedAt = t.now()
	t.st.allocations[a.ID] = *a
	return nil
}

func (t *tx) UpdateChargeStatus(ctx context.Context, id int64, status domain.ChargeStatus) error {
	c, ok := t.st.charges[id]
	if !ok {
		return fmt.Errorf("update charge %d: %w", id, domain.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = t.now()
	t.st.charges[id] = c
	return nil
}

func (t *tx) DeleteAllocation(ctx context.Context, id int64) (bool, error) {
	if _, ok := t.st.allocations[id]; !ok {
		return false, nil
	}
	delete(t.st.allocations, id)
	return true, nil
}

func (t *tx) DeletePaymentCascade(ctx context.Context, id int64) ([]int64, error) {
	if _, ok := t.st.payments[id]; !ok {
		return nil, nil
	}
	seen := map[int64]bool{}
	var chargeIDs []int64
	for _, a := range t.st.sortedAllocations() {
		if a.PaymentID != id {
			continue
		}
		if !seen[a.RentChargeID] {
			seen[a.RentChargeID] = true
			chargeIDs = append(chargeIDs, a.RentChargeID)
		}
		delete(t.st.allocations, a.ID)
	}
	delete(t.st.payments, id)
	return chargeIDs, nil
}

func (t *tx) DeleteChargeCascade(ctx context.Context, id int64) (bool, error) {
	if _, ok := t.st.charges[id]; !ok {
		return false, nil
	}
	for aid, a := range t.st.allocations {
		if a.RentChargeID == id {
			delete(t.st.allocations, aid)
		}
	}
	delete(t.st.charges, id)
	return true, nil
}

type state struct {
	seq         int64
	properties  map[int64]domain.Property
	tenants     map[int64]domain.Tenant
	charges     map[int64]domain.RentCharge
	payments    map[int64]domain.Payment
	allocations map[int64]domain.PaymentAllocation
}

func newState() *state {
	return &state{
		properties:  map[int64]domain.Property{},
		tenants:     map[int64]domain.Tenant{},
		charges:     map[int64]domain.RentCharge{},
		payments:    map[int64]domain.Payment{},
		allocations: map[int64]domain.PaymentAllocation{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.properties {
		c.properties[k] = v
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.charges {
		c.charges[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	return c
}

func (s *state) getPayment(id int64) *domain.Payment {
	p, ok := s.payments[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) getCharge(id int64) *domain.RentCharge {
	c, ok := s.charges[id]
	if !ok {
		return nil
	}
	return &c
}

func (s *state) getAllocation(id int64) *domain.PaymentAllocation {
	a, ok := s.allocations[id]
	if !ok {
		return nil
	}
	return &a
}

func (s *state) getProperty(id int64) *domain.Property {
	p, ok := s.properties[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) getTenant(id int64) *domain.Tenant {
	t, ok := s.tenants[id]
	if !ok {
		return nil
	}
	return &t
}

func (s *state) listPayments(f ledger.PaymentsFilter) []domain.Payment {
	var out []domain.Payment
	for _, p := range s.payments {
		if f.PropertyID != nil && p.PropertyID != *f.PropertyID {
			continue
		}
		if f.DateFrom != nil && p.PaymentDate.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && p.PaymentDate.After(*f.DateTo) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.After(out[j].PaymentDate)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (s *state) listCharges(f ledger.ChargesFilter) []domain.RentCharge {
	var out []domain.RentCharge
	for _, c := range s.charges {
		if f.PropertyID != nil && c.PropertyID != *f.PropertyID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, c.Status) {
			continue
		}
		if f.DueBefore != nil && !c.DueDate.Before(*f.DueBefore) {
			continue
		}
		if f.DueFrom != nil && c.DueDate.Before(*f.DueFrom) {
			continue
		}
		if f.DueTo != nil && c.DueDate.After(*f.DueTo) {
			continue
		}
		if f.PeriodFrom != nil && c.PeriodStart.Before(*f.PeriodFrom) {
			continue
		}
		if f.PeriodTo != nil && c.PeriodEnd.After(*f.PeriodTo) {
			continue
		}
		if f.CreatedSince != nil && c.CreatedAt.Before(*f.CreatedSince) {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Order {
		case ledger.OrderDueDateDesc:
			if !a.DueDate.Equal(b.DueDate) {
				return a.DueDate.After(b.DueDate)
			}
			return a.ID > b.ID
		case ledger.OrderCreatedAtDesc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		default:
			if !a.DueDate.Equal(b.DueDate) {
				return a.DueDate.Before(b.DueDate)
			}
			return a.ID < b.ID
		}
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (s *state) sortedAllocations() []domain.PaymentAllocation {
	out := make([]domain.PaymentAllocation, 0, len(s.allocations))
	for _, a := range s.allocations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) matches(a domain.PaymentAllocation, f ledger.AllocationsFilter) bool {
	if f.PaymentID != nil && a.PaymentID != *f.PaymentID {
		return false
	}
	if f.RentChargeID != nil && a.RentChargeID != *f.RentChargeID {
		return false
	}
	if f.PropertyID != nil {
		p, ok := s.payments[a.PaymentID]
		if !ok || p.PropertyID != *f.PropertyID {
			return false
		}
	}
	return true
}

func (s *state) listAllocations(f ledger.AllocationsFilter) []domain.PaymentAllocation {
	var out []domain.PaymentAllocation
	for _, a := range s.sortedAllocations() {
		if s.matches(a, f) {
			out = append(out, a)
		}
	}
	return out
}

func (s *state) sumAllocations(f ledger.AllocationsFilter) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range s.allocations {
		if s.matches(a, f) {
			sum = sum.Add(a.Amount)
		}
	}
	return sum
}

func (s *state) allocatedByCharge(chargeIDs []int64) map[int64]decimal.Decimal {
	want := make(map[int64]bool, len(chargeIDs))
	for _, id := range chargeIDs {
		want[id] = true
	}
	out := map[int64]decimal.Decimal{}
	for _, a := range s.allocations {
		if !want[a.RentChargeID] {
			continue
		}
		out[a.RentChargeID] = out[a.RentChargeID].Add(a.Amount)
	}
	return out
}

func (s *state) listTenants(f ledger.TenantsFilter) []domain.Tenant {
	var out []domain.Tenant
	for _, t := range s.tenants {
		if f.PropertyID != nil && t.PropertyID != *f.PropertyID {
			continue
		}
		if f.CurrentOnly && !t.IsCurrent() {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MoveInDate.Equal(out[j].MoveInDate) {
			return out[i].MoveInDate.After(out[j].MoveInDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) listProperties() []domain.Property {
	out := make([]domain.Property, 0, len(s.properties))
	for _, p := range s.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasStatus(list []domain.ChargeStatus, s domain.ChargeStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
