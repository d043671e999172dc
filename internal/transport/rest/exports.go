package rest

import (
	"net/http"

	"renttrack/internal/transport/auth"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) exportArrears(w http.ResponseWriter, r *http.Request) {
	exportID, err := h.exports.StartArrearsExport(r.Context(), auth.GetRequester(r.Context()))
	if err != nil {
		h.writeError(w, r, "exportArrears", err)
		return
	}

	SuccessAccepted(w, "export queued", map[string]interface{}{
		"export_id": exportID,
	})
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.exports.ListExports(r.Context())
	if err != nil {
		h.writeError(w, r, "listExports", err)
		return
	}
	Success(w, "", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	exportIDParam := chi.URLParam(r, "export_id")
	if exportIDParam == "" {
		ErrorBadRequest(w, "export_id is required")
		return
	}
	exportID := "exports:" + exportIDParam

	export, err := h.exports.GetExport(r.Context(), exportID)
	if err != nil {
		h.writeError(w, r, "getExport", err)
		return
	}
	Success(w, "", export)
}
