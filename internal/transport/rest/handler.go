package rest

import (
	"context"
	"net/http"
	"time"

	"renttrack/internal/domain"
	"renttrack/internal/ledger"
	"renttrack/internal/logging"
	"renttrack/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Allocator interface {
	Allocate(ctx context.Context, paymentID, chargeID int64, amount decimal.Decimal) (*domain.PaymentAllocation, error)
	Deallocate(ctx context.Context, allocationID int64) (bool, error)
	Balance(ctx context.Context, paymentID int64) (decimal.Decimal, error)
	RecalculateChargeStatus(ctx context.Context, chargeID int64) (domain.ChargeStatus, error)
	AutoAllocate(ctx context.Context, paymentID int64) []domain.PaymentAllocation
}

type ChargeRecorder interface {
	RecordCharge(ctx context.Context, in service.NewCharge) (*domain.RentCharge, error)
	DeleteCharge(ctx context.Context, id int64) (bool, error)
	RefreshStatuses(ctx context.Context) (int, error)
}

type PaymentRecorder interface {
	RecordPayment(ctx context.Context, in service.NewPayment) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, id int64, upd service.PaymentUpdate) (*domain.Payment, error)
	DeletePayment(ctx context.Context, id int64) (bool, error)
	ListPayments(ctx context.Context, f ledger.PaymentsFilter) ([]domain.Payment, error)
	PaymentDetail(ctx context.Context, id int64) (*domain.PaymentDetail, error)
}

type Reporter interface {
	TotalArrears(ctx context.Context) (decimal.Decimal, error)
	ArrearsByTenant(ctx context.Context) ([]domain.TenantArrears, error)
	OutstandingCharges(ctx context.Context, propertyID int64) ([]domain.OutstandingCharge, error)
	DashboardSummary(ctx context.Context) (*domain.DashboardSummary, error)
	PropertyStatement(ctx context.Context, propertyID int64) (*domain.PropertyStatement, error)
	FinancialSummary(ctx context.Context, from, to *time.Time) (*domain.FinancialSummary, error)
	PaymentTimeline(ctx context.Context, propertyID int64, months int) ([]domain.MonthlyPayments, error)
	OccupancyReport(ctx context.Context) ([]domain.PropertyOccupancy, error)
	TenantPaymentHistory(ctx context.Context, tenantID int64) (*domain.TenantPaymentHistory, error)
}

type ArrearsExporter interface {
	StartArrearsExport(ctx context.Context, requestedBy string) (string, error)
	ListExports(ctx context.Context) ([]service.ExportStatus, error)
	GetExport(ctx context.Context, exportID string) (*service.ExportStatus, error)
}

type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, fileName string)
}

type WebSocketServer interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, topics []string)
}

type Handler struct {
	allocations Allocator
	charges     ChargeRecorder
	payments    PaymentRecorder
	reports     Reporter
	exports     ArrearsExporter
	files       FileServer
	ws          WebSocketServer
	logger      logrus.FieldLogger
}

type Deps struct {
	Allocations Allocator
	Charges     ChargeRecorder
	Payments    PaymentRecorder
	Reports     Reporter
	Exports     ArrearsExporter
	Files       FileServer
	WebSocket   WebSocketServer
	Logger      logrus.FieldLogger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		allocations: d.Allocations,
		charges:     d.Charges,
		payments:    d.Payments,
		reports:     d.Reports,
		exports:     d.Exports,
		files:       d.Files,
		ws:          d.WebSocket,
		logger:      logger,
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWith(nil)
}

// InitRouterWith mounts the API behind the given extra middlewares.
func (h *Handler) InitRouterWith(extra ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(h.logger),
		middleware.Recoverer,
	)
	for _, mw := range extra {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		Success(w, "ok", nil)
	})

	if h.ws != nil {
		r.Get("/ws", h.serveWebSocket)
	}
	if h.files != nil {
		r.Get("/files/{file}", h.serveFile)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.createPayment)
			r.Get("/", h.listPayments)
			r.Get("/{id}", h.getPayment)
			r.Patch("/{id}", h.updatePayment)
			r.Delete("/{id}", h.deletePayment)
			r.Get("/{id}/balance", h.paymentBalance)
			r.Post("/{id}/allocations", h.allocate)
			r.Post("/{id}/auto-allocate", h.autoAllocate)
		})

		r.Delete("/allocations/{id}", h.deallocate)

		r.Route("/charges", func(r chi.Router) {
			r.Post("/", h.createCharge)
			r.Post("/refresh-statuses", h.refreshStatuses)
			r.Delete("/{id}", h.deleteCharge)
			r.Post("/{id}/recalculate", h.recalculateCharge)
		})

		r.Route("/properties/{id}", func(r chi.Router) {
			r.Get("/outstanding", h.outstandingCharges)
			r.Get("/statement", h.propertyStatement)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/arrears", h.arrearsByTenant)
			r.Get("/arrears/total", h.totalArrears)
			r.Get("/dashboard", h.dashboard)
			r.Get("/financial", h.financialSummary)
			r.Get("/occupancy", h.occupancy)
			r.Get("/properties/{id}/timeline", h.paymentTimeline)
			r.Get("/tenants/{id}/history", h.tenantHistory)
		})

		if h.exports != nil {
			r.Route("/export", func(r chi.Router) {
				r.Get("/", h.listExports)
				r.Get("/{export_id}", h.getExport)
				r.Post("/arrears", h.exportArrears)
			})
		}
	})

	return r
}

func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Info("http request")
		})
	}
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		ErrorBadRequest(w, "at least one topic is required")
		return
	}
	h.ws.HandleWebSocket(w, r, topics)
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	h.files.ServeFile(w, r, chi.URLParam(r, "file"))
}
