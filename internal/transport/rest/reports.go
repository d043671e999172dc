package rest

import (
	"net/http"
)

func (h *Handler) outstandingCharges(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "outstandingCharges", err)
		return
	}

	rows, err := h.reports.OutstandingCharges(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "outstandingCharges", err)
		return
	}
	Success(w, "", toOutstandingViews(rows))
}

func (h *Handler) propertyStatement(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "propertyStatement", err)
		return
	}

	st, err := h.reports.PropertyStatement(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "propertyStatement", err)
		return
	}
	Success(w, "", toStatementView(st))
}

func (h *Handler) arrearsByTenant(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.ArrearsByTenant(r.Context())
	if err != nil {
		h.writeError(w, r, "arrearsByTenant", err)
		return
	}
	Success(w, "", toArrearsViews(rows))
}

func (h *Handler) totalArrears(w http.ResponseWriter, r *http.Request) {
	total, err := h.reports.TotalArrears(r.Context())
	if err != nil {
		h.writeError(w, r, "totalArrears", err)
		return
	}
	Success(w, "", map[string]interface{}{"total_arrears": money(total)})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reports.DashboardSummary(r.Context())
	if err != nil {
		h.writeError(w, r, "dashboard", err)
		return
	}
	Success(w, "", toDashboardView(sum))
}

func (h *Handler) financialSummary(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil {
		h.writeError(w, r, "financialSummary", err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		h.writeError(w, r, "financialSummary", err)
		return
	}

	sum, err := h.reports.FinancialSummary(r.Context(), from, to)
	if err != nil {
		h.writeError(w, r, "financialSummary", err)
		return
	}
	Success(w, "", toFinancialView(sum))
}

const (
	defaultTimelineMonths = 12
	maxTimelineMonths     = 120
)

func (h *Handler) paymentTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "paymentTimeline", err)
		return
	}
	months, err := queryInt64(r, "months")
	if err != nil {
		h.writeError(w, r, "paymentTimeline", err)
		return
	}
	n := defaultTimelineMonths
	if months != nil {
		if *months > maxTimelineMonths {
			ErrorBadRequest(w, "months must be at most 120")
			return
		}
		n = int(*months)
	}

	rows, err := h.reports.PaymentTimeline(r.Context(), id, n)
	if err != nil {
		h.writeError(w, r, "paymentTimeline", err)
		return
	}
	Success(w, "", toTimelineViews(rows))
}

func (h *Handler) occupancy(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.OccupancyReport(r.Context())
	if err != nil {
		h.writeError(w, r, "occupancy", err)
		return
	}
	Success(w, "", toOccupancyViews(rows))
}

func (h *Handler) tenantHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "tenantHistory", err)
		return
	}

	history, err := h.reports.TenantPaymentHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "tenantHistory", err)
		return
	}
	Success(w, "", toTenantHistoryView(history))
}
