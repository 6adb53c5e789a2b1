// Package api provides the REST API over the ledger, payments, the matching
// engine and the dispatcher.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/dispatch"
	"github.com/mmynk/payables/internal/ledger"
	"github.com/mmynk/payables/internal/matching"
	"github.com/mmynk/payables/internal/middleware"
	"github.com/mmynk/payables/internal/payments"
)

const maxBodyBytes = 1 << 20

// Server is the payables REST API server.
type Server struct {
	ledger         *ledger.Service
	payments       *payments.Service
	engine         *matching.Engine
	dispatcher     *dispatch.Dispatcher
	jwtManager     *auth.JWTManager
	requestTimeout time.Duration
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(l *ledger.Service, p *payments.Service, e *matching.Engine, d *dispatch.Dispatcher, jwtManager *auth.JWTManager) *Server {
	return &Server{
		ledger:         l,
		payments:       p,
		engine:         e,
		dispatcher:     d,
		jwtManager:     jwtManager,
		requestTimeout: 30 * time.Second,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRequestTimeout bounds every request.
func (s *Server) SetRequestTimeout(d time.Duration) { s.requestTimeout = d }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(s.requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.jwtManager))

		r.Route("/cost-items", func(r chi.Router) {
			r.With(middleware.Require(auth.ReadCostItems)).Get("/", s.handleListCostItems)
			r.With(middleware.Require(auth.WriteCostItems)).Post("/", s.handleCreateCostItem)
			r.With(middleware.Require(auth.WriteCostItems)).Post("/batch", s.handleBatchCreateCostItems)
			r.With(middleware.Require(auth.ReadCostItems)).Get("/{id}", s.handleGetCostItem)
			r.With(middleware.Require(auth.WriteCostItems)).Patch("/{id}", s.handleUpdateCostItem)
			r.With(middleware.Require(auth.WriteCostItems)).Delete("/{id}", s.handleDeleteCostItem)
			r.With(middleware.Require(auth.WriteCostItems)).Post("/{id}/copy", s.handleCopyCostItem)
		})

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.With(middleware.Require(auth.ApplyTemplates)).Post("/apply-template", s.handleApplyTemplate)
			r.With(middleware.Require(auth.ReadCostItems)).Get("/budget-summary", s.handleBudgetSummary)
			r.With(middleware.Require(auth.ExportCostItems)).Get("/cost-items/export", s.handleExport)
		})

		r.Route("/invoice-documents", func(r chi.Router) {
			r.With(middleware.Require(auth.ReadInvoices)).Get("/", s.handleListDocuments)
			r.With(middleware.Require(auth.ReadInvoices)).Get("/stats", s.handleDocumentStats)
			r.With(middleware.Require(auth.ReadInvoices)).Get("/{id}", s.handleGetDocument)
			r.With(middleware.Require(auth.ReviewInvoices)).Post("/{id}/confirm", s.handleConfirmDocument)
			r.With(middleware.Require(auth.ReviewInvoices)).Post("/{id}/reject", s.handleRejectDocument)
			r.With(middleware.Require(auth.ReviewInvoices)).Post("/{id}/reassign", s.handleReassignDocument)
			r.With(middleware.Require(auth.ReviewInvoices)).Post("/{id}/rematch", s.handleRematchDocument)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Use(middleware.Require(auth.RecordPayments))
			r.Post("/", s.handlePay)
			r.Get("/preview", s.handleBatchPreview)
			r.Post("/{id}/undo", s.handleUndoPay)
		})

		r.With(middleware.Require(auth.DispatchRequests)).Post("/invoice-requests/dispatch", s.handleDispatch)
	})

	return r
}
