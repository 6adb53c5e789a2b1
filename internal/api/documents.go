package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

// dateParam parses a YYYY-MM-DD query value into Unix seconds at the start
// of the day, or at its last second when endOfDay is set.
func dateParam(r *http.Request, name string, endOfDay bool) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return 0, apperr.Validation(name, "%s must be YYYY-MM-DD", name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t.Unix(), nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	from, err := dateParam(r, "received_from", false)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := dateParam(r, "received_to", true)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := storage.DocumentFilter{
		Status:       models.DocumentStatus(q.Get("status")),
		JobID:        q.Get("job_id"),
		Query:        q.Get("q"),
		ReceivedFrom: from,
		ReceivedTo:   to,
		Page:         page,
	}

	docs, total, err := s.engine.ListDocuments(r.Context(), principal(r), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []models.InvoiceDocument{}
	}
	writeList(w, docs, total, page)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.GetDocument(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *Server) handleConfirmDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CostItemID string                `json:"cost_item_id"`
		Fields     *models.InvoiceFields `json:"fields"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	doc, err := s.engine.Confirm(r.Context(), principal(r), chi.URLParam(r, "id"), req.CostItemID, req.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *Server) handleRejectDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	doc, err := s.engine.Reject(r.Context(), principal(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *Server) handleReassignDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CostItemID string `json:"cost_item_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	doc, err := s.engine.Reassign(r.Context(), principal(r), chi.URLParam(r, "id"), req.CostItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *Server) handleRematchDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.Rematch(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, doc)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CostItemIDs []string `json:"cost_item_ids"`
		Note        string   `json:"note"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), principal(r), req.CostItemIDs, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
