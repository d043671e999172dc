package rest

import (
	"time"

	"renttrack/internal/domain"

	"github.com/shopspring/decimal"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.CurrencyScale)
}

func date(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func datePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := date(*t)
	return &s
}

type paymentView struct {
	ID          int64     `json:"id"`
	PropertyID  int64     `json:"property_id"`
	Amount      string    `json:"amount"`
	PaymentDate string    `json:"payment_date"`
	Notes       *string   `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

func toPaymentView(p domain.Payment) paymentView {
	return paymentView{
		ID:          p.ID,
		PropertyID:  p.PropertyID,
		Amount:      money(p.Amount),
		PaymentDate: date(p.PaymentDate),
		Notes:       p.Notes,
		CreatedAt:   p.CreatedAt,
	}
}

func toPaymentViews(ps []domain.Payment) []paymentView {
	out := make([]paymentView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentView(p))
	}
	return out
}

type chargeView struct {
	ID          int64     `json:"id"`
	PropertyID  int64     `json:"property_id"`
	PeriodStart string    `json:"period_start"`
	PeriodEnd   string    `json:"period_end"`
	AmountDue   string    `json:"amount_due"`
	DueDate     string    `json:"due_date"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toChargeView(c domain.RentCharge) chargeView {
	return chargeView{
		ID:          c.ID,
		PropertyID:  c.PropertyID,
		PeriodStart: date(c.PeriodStart),
		PeriodEnd:   date(c.PeriodEnd),
		AmountDue:   money(c.AmountDue),
		DueDate:     date(c.DueDate),
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
	}
}

func toChargeViews(cs []domain.RentCharge) []chargeView {
	out := make([]chargeView, 0, len(cs))
	for _, c := range cs {
		out = append(out, toChargeView(c))
	}
	return out
}

type allocationView struct {
	ID           int64     `json:"id"`
	PaymentID    int64     `json:"payment_id"`
	RentChargeID int64     `json:"rent_charge_id"`
	Amount       string    `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAllocationView(a domain.PaymentAllocation) allocationView {
	return allocationView{
		ID:           a.ID,
		PaymentID:    a.PaymentID,
		RentChargeID: a.RentChargeID,
		Amount:       money(a.Amount),
		CreatedAt:    a.CreatedAt,
	}
}

func toAllocationViews(as []domain.PaymentAllocation) []allocationView {
	out := make([]allocationView, 0, len(as))
	for _, a := range as {
		out = append(out, toAllocationView(a))
	}
	return out
}

type tenantView struct {
	ID          int64   `json:"id"`
	PropertyID  int64   `json:"property_id"`
	Name        string  `json:"name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	MoveInDate  string  `json:"move_in_date"`
	MoveOutDate *string `json:"move_out_date"`
}

func toTenantViews(ts []domain.Tenant) []tenantView {
	out := make([]tenantView, 0, len(ts))
	for _, t := range ts {
		out = append(out, tenantView{
			ID:          t.ID,
			PropertyID:  t.PropertyID,
			Name:        t.Name,
			Email:       t.Email,
			Phone:       t.Phone,
			MoveInDate:  date(t.MoveInDate),
			MoveOutDate: datePtr(t.MoveOutDate),
		})
	}
	return out
}

type propertyView struct {
	ID          int64  `json:"id"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	MonthlyRent string `json:"monthly_rent"`
	IsActive    bool   `json:"is_active"`
}

func toPropertyView(p domain.Property) propertyView {
	return propertyView{
		ID:          p.ID,
		Address:     p.Address,
		City:        p.City,
		PostalCode:  p.PostalCode,
		MonthlyRent: money(p.MonthlyRent),
		IsActive:    p.IsActive,
	}
}

type arrearsView struct {
	TenantID         int64        `json:"tenant_id"`
	TenantName       string       `json:"tenant_name"`
	TenantEmail      *string      `json:"tenant_email"`
	Property         propertyView `json:"property"`
	Charges          []chargeView `json:"charges"`
	TotalOutstanding string       `json:"total_outstanding"`
	OldestDueDate    string       `json:"oldest_due_date"`
	DaysOverdue      int          `json:"days_overdue"`
	HasEmail         bool         `json:"has_email"`
}

func toArrearsViews(rows []domain.TenantArrears) []arrearsView {
	out := make([]arrearsView, 0, len(rows))
	for _, r := range rows {
		out = append(out, arrearsView{
			TenantID:         r.Tenant.ID,
			TenantName:       r.Tenant.Name,
			TenantEmail:      r.Tenant.Email,
			Property:         toPropertyView(r.Property),
			Charges:          toChargeViews(r.Charges),
			TotalOutstanding: money(r.TotalOutstanding),
			OldestDueDate:    date(r.OldestDueDate),
			DaysOverdue:      r.DaysOverdue,
			HasEmail:         r.HasEmail,
		})
	}
	return out
}

type outstandingView struct {
	Charge      chargeView `json:"charge"`
	Allocated   string     `json:"allocated"`
	Outstanding string     `json:"outstanding"`
}

func toOutstandingViews(rows []domain.OutstandingCharge) []outstandingView {
	out := make([]outstandingView, 0, len(rows))
	for _, r := range rows {
		out = append(out, outstandingView{
			Charge:      toChargeView(r.Charge),
			Allocated:   money(r.Allocated),
			Outstanding: money(r.Outstanding),
		})
	}
	return out
}

type paymentDetailView struct {
	Payment     paymentView      `json:"payment"`
	Allocations []allocationView `json:"allocations"`
	Allocated   string           `json:"allocated"`
	Balance     string           `json:"balance"`
}

func toPaymentDetailView(d *domain.PaymentDetail) paymentDetailView {
	return paymentDetailView{
		Payment:     toPaymentView(d.Payment),
		Allocations: toAllocationViews(d.Allocations),
		Allocated:   money(d.Allocated),
		Balance:     money(d.Balance),
	}
}

type statementView struct {
	Property       propertyView  `json:"property"`
	Tenants        []tenantView  `json:"tenants"`
	CurrentTenants []tenantView  `json:"current_tenants"`
	Payments       []paymentView `json:"payments"`
	Charges        []chargeView  `json:"charges"`
	TotalPayments  string        `json:"total_payments"`
	TotalCharges   string        `json:"total_charges"`
	Balance        string        `json:"balance"`
}

func toStatementView(s *domain.PropertyStatement) statementView {
	return statementView{
		Property:       toPropertyView(s.Property),
		Tenants:        toTenantViews(s.Tenants),
		CurrentTenants: toTenantViews(s.CurrentTenants),
		Payments:       toPaymentViews(s.Payments),
		Charges:        toChargeViews(s.Charges),
		TotalPayments:  money(s.TotalPayments),
		TotalCharges:   money(s.TotalCharges),
		Balance:        money(s.Balance),
	}
}

type dashboardView struct {
	TotalProperties     int            `json:"total_properties"`
	TotalTenants        int            `json:"total_tenants"`
	MonthlyRentExpected string         `json:"monthly_rent_expected"`
	TotalArrears        string         `json:"total_arrears"`
	RecentPayments      []paymentView  `json:"recent_payments"`
	UpcomingCharges     []chargeView   `json:"upcoming_charges"`
	RecentCharges       []chargeView   `json:"recent_charges"`
	ChargesByStatus     map[string]int `json:"charges_by_status"`
}

func toDashboardView(d *domain.DashboardSummary) dashboardView {
	byStatus := make(map[string]int, len(d.ChargesByStatus))
	for k, v := range d.ChargesByStatus {
		byStatus[string(k)] = v
	}
	return dashboardView{
		TotalProperties:     d.TotalProperties,
		TotalTenants:        d.TotalTenants,
		MonthlyRentExpected: money(d.MonthlyRentExpected),
		TotalArrears:        money(d.TotalArrears),
		RecentPayments:      toPaymentViews(d.RecentPayments),
		UpcomingCharges:     toChargeViews(d.UpcomingCharges),
		RecentCharges:       toChargeViews(d.RecentCharges),
		ChargesByStatus:     byStatus,
	}
}

type financialView struct {
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	TotalReceived string `json:"total_received"`
	TotalCharged  string `json:"total_charged"`
	Outstanding   string `json:"outstanding"`
	PaymentCount  int    `json:"payment_count"`
	ChargeCount   int    `json:"charge_count"`
}

func toFinancialView(f *domain.FinancialSummary) financialView {
	return financialView{
		StartDate:     date(f.StartDate),
		EndDate:       date(f.EndDate),
		TotalReceived: money(f.TotalReceived),
		TotalCharged:  money(f.TotalCharged),
		Outstanding:   money(f.Outstanding),
		PaymentCount:  f.PaymentCount,
		ChargeCount:   f.ChargeCount,
	}
}

type monthlyPaymentsView struct {
	Month        string `json:"month"`
	PaymentCount int    `json:"payment_count"`
	Total        string `json:"total"`
}

func toTimelineViews(rows []domain.MonthlyPayments) []monthlyPaymentsView {
	out := make([]monthlyPaymentsView, 0, len(rows))
	for _, m := range rows {
		out = append(out, monthlyPaymentsView{
			Month:        m.Month.Format("2006-01"),
			PaymentCount: m.PaymentCount,
			Total:        money(m.Total),
		})
	}
	return out
}

type occupancyView struct {
	Property    propertyView `json:"property"`
	IsOccupied  bool         `json:"is_occupied"`
	TenantCount int          `json:"tenant_count"`
	Tenants     []tenantView `json:"tenants"`
}

func toOccupancyViews(rows []domain.PropertyOccupancy) []occupancyView {
	out := make([]occupancyView, 0, len(rows))
	for _, o := range rows {
		out = append(out, occupancyView{
			Property:    toPropertyView(o.Property),
			IsOccupied:  o.IsOccupied,
			TenantCount: o.TenantCount,
			Tenants:     toTenantViews(o.Tenants),
		})
	}
	return out
}

type residencyView struct {
	MoveIn  string  `json:"move_in"`
	MoveOut *string `json:"move_out"`
}

type tenantHistoryView struct {
	Tenant          tenantView       `json:"tenant"`
	Property        propertyView     `json:"property"`
	Charges         []chargeView     `json:"charges"`
	Allocations     []allocationView `json:"allocations"`
	TotalPaid       string           `json:"total_paid"`
	ResidencyPeriod residencyView    `json:"residency_period"`
}

func toTenantHistoryView(h *domain.TenantPaymentHistory) tenantHistoryView {
	return tenantHistoryView{
		Tenant:      toTenantViews([]domain.Tenant{h.Tenant})[0],
		Property:    toPropertyView(h.Property),
		Charges:     toChargeViews(h.Charges),
		Allocations: toAllocationViews(h.Allocations),
		TotalPaid:   money(h.TotalPaid),
		ResidencyPeriod: residencyView{
			MoveIn:  date(h.MoveIn),
			MoveOut: datePtr(h.MoveOut),
		},
	}
}
