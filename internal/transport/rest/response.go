package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"renttrack/internal/domain"

	"github.com/sirupsen/logrus"
)

type APIResponse struct {
	ErrorCode int         `json:"error_code"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

func Response(w http.ResponseWriter, message string, data interface{}, errorCode int, status string, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	response := APIResponse{
		ErrorCode: errorCode,
		Status:    status,
		Message:   message,
		Data:      data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logrus.WithError(err).Warn("write response")
	}
}

func Success(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusOK)
}

func SuccessCreated(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusCreated)
}

func SuccessAccepted(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusAccepted)
}

func Error(w http.ResponseWriter, message string, errorCode int, httpStatus int) {
	Response(w, message, nil, errorCode, "error", httpStatus)
}

func ErrorBadRequest(w http.ResponseWriter, message string) {
	Error(w, message, 400, http.StatusBadRequest)
}

func ErrorNotFound(w http.ResponseWriter, message string) {
	Error(w, message, 404, http.StatusNotFound)
}

func ErrorConflict(w http.ResponseWriter, message string) {
	Error(w, message, 409, http.StatusConflict)
}

func ErrorInternal(w http.ResponseWriter, message string) {
	Error(w, message, 500, http.StatusInternalServerError)
}

func ErrorUnavailable(w http.ResponseWriter, message string) {
	Error(w, message, 503, http.StatusServiceUnavailable)
}

// writeError maps ledger errors to HTTP statuses. Anything unknown is logged
// and reported as 500 without its details.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		ErrorBadRequest(w, verr.Error())
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidPeriod):
		ErrorBadRequest(w, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		ErrorNotFound(w, err.Error())
	case errors.Is(err, domain.ErrOverAllocation):
		ErrorConflict(w, err.Error())
	case errors.Is(err, domain.ErrConcurrentConflict):
		w.Header().Set("Retry-After", "1")
		ErrorUnavailable(w, domain.ErrConcurrentConflict.Error())
	default:
		h.logger.WithFields(logrus.Fields{
			"op":     op,
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("request failed")
		ErrorInternal(w, "internal error")
	}
}
