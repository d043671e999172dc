package rest

import (
	"net/http"
)

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	paymentID, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "allocate", err)
		return
	}

	var req allocateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, "allocate", err)
		return
	}

	a, err := h.allocations.Allocate(r.Context(), paymentID, req.RentChargeID, mustAmount(req.Amount))
	if err != nil {
		h.writeError(w, r, "allocate", err)
		return
	}
	SuccessCreated(w, "allocation created", toAllocationView(*a))
}

func (h *Handler) autoAllocate(w http.ResponseWriter, r *http.Request) {
	paymentID, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "autoAllocate", err)
		return
	}

	created := h.allocations.AutoAllocate(r.Context(), paymentID)

	balance, err := h.allocations.Balance(r.Context(), paymentID)
	if err != nil {
		h.writeError(w, r, "autoAllocate", err)
		return
	}
	Success(w, "", map[string]interface{}{
		"allocations": toAllocationViews(created),
		"balance":     money(balance),
	})
}

func (h *Handler) deallocate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, "deallocate", err)
		return
	}

	ok, err := h.allocations.Deallocate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "deallocate", err)
		return
	}
	if !ok {
		ErrorNotFound(w, "allocation not found")
		return
	}
	Success(w, "allocation deleted", nil)
}
