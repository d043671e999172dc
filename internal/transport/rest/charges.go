package rest

import (
	"net/http"

	"renttrack/internal/service"
)

func (h *Handler) createCharge(w http.ResponseWriter, r *http.Request) {
	var req createChargeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, "createCharge", err)
		return
	}

	c, err := h.charges.RecordCharge(r.Context(), service.NewCharge{
		PropertyID:  req.PropertyID,
		PeriodStart: mustDate(req.PeriodStart),
		PeriodEnd:   mustDate(req.PeriodEnd),
		AmountDue:   mustAmount(req.AmountDue),
		DueDate:     mustDate(req.DueDate),
	})
	if err != nil {
		h.writeError(w, r, "createCharge", err)
		return
	}
	SuccessCreated(w, "charge recorded", toChargeView(*c))
}

func (h *Handler) deleteCharge(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "deleteCharge", err)
		return
	}

	ok, err := h.charges.DeleteCharge(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "deleteCharge", err)
		return
	}
	if !ok {
		ErrorNotFound(w, "charge not found")
		return
	}
	Success(w, "charge deleted", nil)
}

func (h *Handler) recalculateCharge(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "recalculateCharge", err)
		return
	}

	status, err := h.allocations.RecalculateChargeStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "recalculateCharge", err)
		return
	}
	Success(w, "", map[string]interface{}{
		"rent_charge_id": id,
		"status":         string(status),
	})
}

func (h *Handler) refreshStatuses(w http.ResponseWriter, r *http.Request) {
	changed, err := h.charges.RefreshStatuses(r.Context())
	if err != nil {
		h.writeError(w, r, "refreshStatuses", err)
		return
	}
	Success(w, "", map[string]interface{}{"changed": changed})
}
