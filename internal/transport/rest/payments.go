package rest

import (
	"net/http"

	"renttrack/internal/ledger"
	"renttrack/internal/service"
)

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, "createPayment", err)
		return
	}

	p, err := h.payments.RecordPayment(r.Context(), service.NewPayment{
		PropertyID:  req.PropertyID,
		Amount:      mustAmount(req.Amount),
		PaymentDate: mustDate(req.PaymentDate),
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeError(w, r, "createPayment", err)
		return
	}

	SuccessCreated(w, "payment recorded", toPaymentView(*p))
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	var f ledger.PaymentsFilter
	var err error
	if f.PropertyID, err = queryInt64(r, "property_id"); err != nil {
		h.writeError(w, r, "listPayments", err)
		return
	}
	if f.DateFrom, err = queryDate(r, "from"); err != nil {
		h.writeError(w, r, "listPayments", err)
		return
	}
	if f.DateTo, err = queryDate(r, "to"); err != nil {
		h.writeError(w, r, "listPayments", err)
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		h.writeError(w, r, "listPayments", err)
		return
	}
	if limit != nil {
		f.Limit = int(*limit)
	}

	payments, err := h.payments.ListPayments(r.Context(), f)
	if err != nil {
		h.writeError(w, r, "listPayments", err)
		return
	}
	Success(w, "", toPaymentViews(payments))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "getPayment", err)
		return
	}

	detail, err := h.payments.PaymentDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "getPayment", err)
		return
	}
	Success(w, "", toPaymentDetailView(detail))
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "updatePayment", err)
		return
	}

	var req updatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, "updatePayment", err)
		return
	}

	var upd service.PaymentUpdate
	if req.Amount != nil {
		amount := mustAmount(*req.Amount)
		upd.Amount = &amount
	}
	if req.PaymentDate != nil {
		d := mustDate(*req.PaymentDate)
		upd.PaymentDate = &d
	}
	upd.Notes = req.Notes

	p, err := h.payments.UpdatePayment(r.Context(), id, upd)
	if err != nil {
		h.writeError(w, r, "updatePayment", err)
		return
	}
	Success(w, "payment updated", toPaymentView(*p))
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "deletePayment", err)
		return
	}

	ok, err := h.payments.DeletePayment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "deletePayment", err)
		return
	}
	if !ok {
		ErrorNotFound(w, "payment not found")
		return
	}
	Success(w, "payment deleted", nil)
}

func (h *Handler) paymentBalance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "paymentBalance", err)
		return
	}

	balance, err := h.allocations.Balance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "paymentBalance", err)
		return
	}
	Success(w, "", map[string]interface{}{
		"payment_id": id,
		"balance":    money(balance),
	})
}
