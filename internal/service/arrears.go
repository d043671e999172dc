package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"renttrack/internal/clients"
	"renttrack/internal/domain"
	"renttrack/internal/ledger"
	"renttrack/internal/logging"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	dashboardRecentPayments = 5
	dashboardUpcomingDays   = 7
	dashboardRecentDays     = 30
)

// ArrearsService aggregates overdue charges and builds the read-only reports.
type ArrearsService struct {
	store ledger.Reader
	opts  Options
}

func NewArrearsService(store ledger.Reader, opts Options) *ArrearsService {
	return &ArrearsService{store: store, opts: opts.withDefaults()}
}

// TotalArrears is the sum of the unpaid parts of all late and in-arrears
// charges. The result is cached until the next ledger change. A total whose
// computation overlapped a ledger change is returned but not cached.
func (s *ArrearsService) TotalArrears(ctx context.Context) (decimal.Decimal, error) {
	generation, cacheable := "", s.opts.Cache != nil
	if cacheable {
		cached, err := s.opts.Cache.Get(ctx, arrearsTotalKey)
		switch {
		case err == nil:
			if total, perr := decimal.NewFromString(cached); perr == nil {
				return total, nil
			}
		case !errors.Is(err, clients.ErrCacheMiss):
			logging.LogError(s.opts.Logger, "arrears", "TotalArrears", "read cache", nil, err)
		}

		generation, err = s.opts.Cache.Get(ctx, arrearsGenerationKey)
		if errors.Is(err, clients.ErrCacheMiss) {
			generation, err = "", nil
		}
		if err != nil {
			logging.LogError(s.opts.Logger, "arrears", "TotalArrears", "read cache generation", nil, err)
			cacheable = false
		}
	}

	charges, allocated, err := s.overdueCharges(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, c := range charges {
		total = total.Add(c.Outstanding(allocated[c.ID]))
	}

	if cacheable {
		stored, err := s.opts.Cache.SetIfUnchanged(ctx, arrearsTotalKey, total.StringFixed(domain.CurrencyScale), s.opts.ArrearsTTL, arrearsGenerationKey, generation)
		switch {
		case err != nil:
			logging.LogError(s.opts.Logger, "arrears", "TotalArrears", "write cache", nil, err)
		case !stored:
			s.opts.Logger.Debug("ledger changed while computing arrears total; not caching")
		}
	}
	return total, nil
}

// ArrearsByTenant groups overdue charges under the current tenants of their
// property, longest overdue first. Every current tenant of a property sees
// all of its overdue charges.
func (s *ArrearsService) ArrearsByTenant(ctx context.Context) ([]domain.TenantArrears, error) {
	charges, allocated, err := s.overdueCharges(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return []domain.TenantArrears{}, nil
	}

	byProperty := make(map[int64][]domain.RentCharge)
	for _, c := range charges {
		byProperty[c.PropertyID] = append(byProperty[c.PropertyID], c)
	}

	properties, err := s.store.ListProperties(ctx)
	if err != nil {
		return nil, err
	}
	propertyByID := make(map[int64]domain.Property, len(properties))
	for _, p := range properties {
		propertyByID[p.ID] = p
	}

	tenants, err := s.store.ListTenants(ctx, ledger.TenantsFilter{CurrentOnly: true})
	if err != nil {
		return nil, err
	}

	today := s.opts.today()
	rows := []domain.TenantArrears{}
	for _, t := range tenants {
		owed := byProperty[t.PropertyID]
		if len(owed) == 0 {
			continue
		}

		row := domain.TenantArrears{
			Tenant:           t,
			Property:         propertyByID[t.PropertyID],
			Charges:          owed,
			TotalOutstanding: decimal.Zero,
			HasEmail:         t.Email != nil && *t.Email != "",
		}
		for i, c := range owed {
			row.TotalOutstanding = row.TotalOutstanding.Add(c.Outstanding(allocated[c.ID]))
			if i == 0 || c.DueDate.Before(row.OldestDueDate) {
				row.OldestDueDate = c.DueDate
			}
		}
		row.DaysOverdue = domain.DaysBetween(row.OldestDueDate, today)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].DaysOverdue != rows[j].DaysOverdue {
			return rows[i].DaysOverdue > rows[j].DaysOverdue
		}
		return rows[i].Tenant.ID < rows[j].Tenant.ID
	})
	return rows, nil
}

// OutstandingCharges lists the unpaid charges of a property, oldest due first.
func (s *ArrearsService) OutstandingCharges(ctx context.Context, propertyID int64) ([]domain.OutstandingCharge, error) {
	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, fmt.Errorf("property %d: %w", propertyID, domain.ErrNotFound)
	}

	charges, err := s.store.ListCharges(ctx, ledger.ChargesFilter{
		PropertyID: ledger.Int64Ptr(propertyID),
		Statuses:   domain.OutstandingStatuses,
		Order:      ledger.OrderDueDateAsc,
	})
	if err != nil {
		return nil, err
	}
	allocated, err := s.store.AllocatedByCharge(ctx, chargeIDs(charges))
	if err != nil {
		return nil, err
	}

	out := make([]domain.OutstandingCharge, 0, len(charges))
	for _, c := range charges {
		a := allocated[c.ID]
		out = append(out, domain.OutstandingCharge{
			Charge:      c,
			Allocated:   a,
			Outstanding: c.Outstanding(a),
		})
	}
	return out, nil
}

func (s *ArrearsService) DashboardSummary(ctx context.Context) (*domain.DashboardSummary, error) {
	today := s.opts.today()
	summary := &domain.DashboardSummary{
		MonthlyRentExpected: decimal.Zero,
		ChargesByStatus:     make(map[domain.ChargeStatus]int),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		properties, err := s.store.ListProperties(gctx)
		if err != nil {
			return err
		}
		summary.TotalProperties = len(properties)
		for _, p := range properties {
			if p.IsActive {
				summary.MonthlyRentExpected = summary.MonthlyRentExpected.Add(p.MonthlyRent)
			}
		}
		return nil
	})
	g.Go(func() error {
		tenants, err := s.store.ListTenants(gctx, ledger.TenantsFilter{})
		if err != nil {
			return err
		}
		summary.TotalTenants = len(tenants)
		return nil
	})
	g.Go(func() error {
		total, err := s.TotalArrears(gctx)
		if err != nil {
			return err
		}
		summary.TotalArrears = total
		return nil
	})
	g.Go(func() error {
		payments, err := s.store.ListPayments(gctx, ledger.PaymentsFilter{Limit: dashboardRecentPayments})
		if err != nil {
			return err
		}
		summary.RecentPayments = payments
		return nil
	})
	g.Go(func() error {
		upcoming, err := s.store.ListCharges(gctx, ledger.ChargesFilter{
			Statuses: []domain.ChargeStatus{domain.ChargeStatusCharged},
			DueFrom:  ledger.TimePtr(today),
			DueTo:    ledger.TimePtr(today.AddDate(0, 0, dashboardUpcomingDays)),
			Order:    ledger.OrderDueDateAsc,
		})
		if err != nil {
			return err
		}
		summary.UpcomingCharges = upcoming
		return nil
	})
	g.Go(func() error {
		recent, err := s.store.ListCharges(gctx, ledger.ChargesFilter{
			CreatedSince: ledger.TimePtr(today.AddDate(0, 0, -dashboardRecentDays)),
			Order:        ledger.OrderCreatedAtDesc,
		})
		if err != nil {
			return err
		}
		summary.RecentCharges = recent
		return nil
	})
	g.Go(func() error {
		all, err := s.store.ListCharges(gctx, ledger.ChargesFilter{})
		if err != nil {
			return err
		}
		counts := make(map[domain.ChargeStatus]int)
		for _, c := range all {
			counts[c.Status]++
		}
		summary.ChargesByStatus = counts
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

// PropertyStatement collects the tenants, payments and charges of a property.
// Balance is what was charged minus what was received.
func (s *ArrearsService) PropertyStatement(ctx context.Context, propertyID int64) (*domain.PropertyStatement, error) {
	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, fmt.Errorf("property %d: %w", propertyID, domain.ErrNotFound)
	}

	st := &domain.PropertyStatement{
		Property:       *property,
		CurrentTenants: []domain.Tenant{},
		TotalPayments:  decimal.Zero,
		TotalCharges:   decimal.Zero,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tenants, err := s.store.ListTenants(gctx, ledger.TenantsFilter{PropertyID: ledger.Int64Ptr(propertyID)})
		st.Tenants = tenants
		return err
	})
	g.Go(func() error {
		payments, err := s.store.ListPayments(gctx, ledger.PaymentsFilter{PropertyID: ledger.Int64Ptr(propertyID)})
		st.Payments = payments
		return err
	})
	g.Go(func() error {
		charges, err := s.store.ListCharges(gctx, ledger.ChargesFilter{
			PropertyID: ledger.Int64Ptr(propertyID),
			Order:      ledger.OrderDueDateDesc,
		})
		st.Charges = charges
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, t := range st.Tenants {
		if t.IsCurrent() {
			st.CurrentTenants = append(st.CurrentTenants, t)
		}
	}
	for _, p := range st.Payments {
		st.TotalPayments = st.TotalPayments.Add(p.Amount)
	}
	for _, c := range st.Charges {
		st.TotalCharges = st.TotalCharges.Add(c.AmountDue)
	}
	st.Balance = st.TotalCharges.Sub(st.TotalPayments)
	return st, nil
}

// FinancialSummary totals payments received and charges raised in a date
// range. A nil from means January 1st of the current year, a nil to means
// today. Charges count when their whole period lies inside the range.
func (s *ArrearsService) FinancialSummary(ctx context.Context, from, to *time.Time) (*domain.FinancialSummary, error) {
	today := s.opts.today()
	start := domain.NewDate(today.Year(), time.January, 1)
	end := today
	if from != nil {
		start = domain.DateOf(*from)
	}
	if to != nil {
		end = domain.DateOf(*to)
	}
	if start.After(end) {
		return nil, domain.ErrInvalidPeriod
	}

	var (
		payments []domain.Payment
		charges  []domain.RentCharge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		payments, err = s.store.ListPayments(gctx, ledger.PaymentsFilter{
			DateFrom: ledger.TimePtr(start),
			DateTo:   ledger.TimePtr(end),
		})
		return err
	})
	g.Go(func() (err error) {
		charges, err = s.store.ListCharges(gctx, ledger.ChargesFilter{
			PeriodFrom: ledger.TimePtr(start),
			PeriodTo:   ledger.TimePtr(end),
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := &domain.FinancialSummary{
		StartDate:     start,
		EndDate:       end,
		TotalReceived: decimal.Zero,
		TotalCharged:  decimal.Zero,
		PaymentCount:  len(payments),
		ChargeCount:   len(charges),
	}
	for _, p := range payments {
		sum.TotalReceived = sum.TotalReceived.Add(p.Amount)
	}
	for _, c := range charges {
		sum.TotalCharged = sum.TotalCharged.Add(c.AmountDue)
	}
	sum.Outstanding = sum.TotalCharged.Sub(sum.TotalReceived)
	return sum, nil
}

// PaymentTimeline buckets the payments of a property by calendar month,
// covering the months from 30*months days ago through today. Months without
// payments are included with a zero total.
func (s *ArrearsService) PaymentTimeline(ctx context.Context, propertyID int64, months int) ([]domain.MonthlyPayments, error) {
	if months < 1 {
		return nil, fmt.Errorf("timeline of %d months: %w", months, domain.ErrInvalidPeriod)
	}
	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, fmt.Errorf("property %d: %w", propertyID, domain.ErrNotFound)
	}

	end := s.opts.today()
	start := end.AddDate(0, 0, -30*months)

	payments, err := s.store.ListPayments(ctx, ledger.PaymentsFilter{
		PropertyID: ledger.Int64Ptr(propertyID),
		DateFrom:   ledger.TimePtr(start),
		DateTo:     ledger.TimePtr(end),
	})
	if err != nil {
		return nil, err
	}

	timeline := []domain.MonthlyPayments{}
	index := make(map[time.Time]int)
	for m := domain.NewDate(start.Year(), start.Month(), 1); !m.After(end); m = m.AddDate(0, 1, 0) {
		index[m] = len(timeline)
		timeline = append(timeline, domain.MonthlyPayments{Month: m, Total: decimal.Zero})
	}

	for _, p := range payments {
		i, ok := index[domain.NewDate(p.PaymentDate.Year(), p.PaymentDate.Month(), 1)]
		if !ok {
			continue
		}
		timeline[i].PaymentCount++
		timeline[i].Total = timeline[i].Total.Add(p.Amount)
	}
	return timeline, nil
}

// OccupancyReport lists every property with its current tenants.
func (s *ArrearsService) OccupancyReport(ctx context.Context) ([]domain.PropertyOccupancy, error) {
	var (
		properties []domain.Property
		tenants    []domain.Tenant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		properties, err = s.store.ListProperties(gctx)
		return err
	})
	g.Go(func() (err error) {
		tenants, err = s.store.ListTenants(gctx, ledger.TenantsFilter{CurrentOnly: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byProperty := make(map[int64][]domain.Tenant)
	for _, t := range tenants {
		byProperty[t.PropertyID] = append(byProperty[t.PropertyID], t)
	}

	report := make([]domain.PropertyOccupancy, 0, len(properties))
	for _, p := range properties {
		current := byProperty[p.ID]
		if current == nil {
			current = []domain.Tenant{}
		}
		report = append(report, domain.PropertyOccupancy{
			Property:    p,
			IsOccupied:  len(current) > 0,
			TenantCount: len(current),
			Tenants:     current,
		})
	}
	return report, nil
}

// TenantPaymentHistory collects the charges and allocations of the tenant's
// property. TotalPaid is the sum of those allocations, so it covers the whole
// property and not only the tenant's residency.
func (s *ArrearsService) TenantPaymentHistory(ctx context.Context, tenantID int64) (*domain.TenantPaymentHistory, error) {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %d: %w", tenantID, domain.ErrNotFound)
	}

	h := &domain.TenantPaymentHistory{
		Tenant:    *tenant,
		TotalPaid: decimal.Zero,
		MoveIn:    tenant.MoveInDate,
		MoveOut:   tenant.MoveOutDate,
	}
	propertyID := ledger.Int64Ptr(tenant.PropertyID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		property, err := s.store.GetProperty(gctx, tenant.PropertyID)
		if err != nil {
			return err
		}
		if property == nil {
			return fmt.Errorf("property %d of tenant %d: %w", tenant.PropertyID, tenantID, domain.ErrNotFound)
		}
		h.Property = *property
		return nil
	})
	g.Go(func() (err error) {
		h.Charges, err = s.store.ListCharges(gctx, ledger.ChargesFilter{
			PropertyID: propertyID,
			Order:      ledger.OrderDueDateDesc,
		})
		return err
	})
	g.Go(func() (err error) {
		h.Allocations, err = s.store.ListAllocations(gctx, ledger.AllocationsFilter{PropertyID: propertyID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, a := range h.Allocations {
		h.TotalPaid = h.TotalPaid.Add(a.Amount)
	}
	return h, nil
}

func (s *ArrearsService) overdueCharges(ctx context.Context, propertyID *int64) ([]domain.RentCharge, map[int64]decimal.Decimal, error) {
	charges, err := s.store.ListCharges(ctx, ledger.ChargesFilter{
		PropertyID: propertyID,
		Statuses:   domain.OverdueStatuses,
		Order:      ledger.OrderDueDateAsc,
	})
	if err != nil {
		return nil, nil, err
	}
	allocated, err := s.store.AllocatedByCharge(ctx, chargeIDs(charges))
	if err != nil {
		return nil, nil, err
	}
	return charges, allocated, nil
}

func chargeIDs(charges []domain.RentCharge) []int64 {
	ids := make([]int64, 0, len(charges))
	for _, c := range charges {
		ids = append(ids, c.ID)
	}
	return ids
}
