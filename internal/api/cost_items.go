package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/ledger"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/report"
	"github.com/mmynk/payables/internal/storage"
)

func (s *Server) handleListCostItems(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	withoutInvoice, err := boolParam(r, "without_invoice")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := storage.CostItemFilter{
		JobID:                q.Get("job_id"),
		PeriodMonth:          q.Get("period_month"),
		ItemStatus:           models.ItemStatus(q.Get("item_status")),
		InvoiceRequestStatus: models.InvoiceRequestStatus(q.Get("invoice_request_status")),
		WithoutInvoice:       withoutInvoice,
		Page:                 page,
	}

	items, total, err := s.ledger.List(r.Context(), principal(r), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.CostItem{}
	}
	writeList(w, items, total, page)
}

func (s *Server) handleCreateCostItem(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	in, err := ledger.DecodeCreate(data)
	if err != nil {
		writeError(w, err)
		return
	}

	item, err := s.ledger.Create(r.Context(), principal(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *Server) handleBatchCreateCostItems(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	inputs, err := ledger.DecodeBatch(data)
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := s.ledger.BatchCreate(r.Context(), principal(r), inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, items)
}

func (s *Server) handleGetCostItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.ledger.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *Server) handleUpdateCostItem(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	patch, err := ledger.DecodePatch(data)
	if err != nil {
		writeError(w, err)
		return
	}

	item, err := s.ledger.Update(r.Context(), principal(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *Server) handleDeleteCostItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ledger.Delete(r.Context(), principal(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (s *Server) handleCopyCostItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetJobID string `json:"target_job_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	item, err := s.ledger.Copy(r.Context(), principal(r), chi.URLParam(r, "id"), req.TargetJobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.ApplyTemplate(r.Context(), principal(r), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*models.CostItem{}
	}
	writeData(w, http.StatusCreated, items)
}

func (s *Server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.BudgetSummary(r.Context(), principal(r), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := report.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, apperr.Validation("format", "%v", err))
		return
	}

	table, err := s.ledger.Export(r.Context(), principal(r), chi.URLParam(r, "jobID"), q.Get("locale"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+table.FileName(format)+`"`)
	if err := report.Write(w, table, format); err != nil {
		slog.Error("Export write failed", "error", err, "job_id", chi.URLParam(r, "jobID"), "format", format)
	}
}
