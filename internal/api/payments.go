package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/payments"
)

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req payments.PayInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.payments.Pay(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleUndoPay(w http.ResponseWriter, r *http.Request) {
	item, err := s.payments.UndoPay(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

// handleBatchPreview reads the selection from a comma separated
// cost_item_ids query value.
func (s *Server) handleBatchPreview(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("cost_item_ids"))
	if raw == "" {
		writeError(w, apperr.Validation("cost_item_ids", "cost_item_ids is required"))
		return
	}

	preview, err := s.payments.BatchPreview(r.Context(), principal(r), strings.Split(raw, ","))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, preview)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context(), principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}
