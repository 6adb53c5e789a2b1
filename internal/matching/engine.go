package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/metrics"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

// Engine scores documents against open obligations and applies reviewer
// decisions.
type Engine struct {
	store  storage.Store
	ctl    *lifecycle.Controller
	scorer *Scorer
	cfg    config.MatchingConfig
	queue  Queue
	now    func() time.Time
}

// NewEngine creates an Engine. queue receives the match jobs of ingested
// documents.
func NewEngine(store storage.Store, ctl *lifecycle.Controller, cfg config.MatchingConfig, queue Queue) *Engine {
	return &Engine{
		store:  store,
		ctl:    ctl,
		scorer: NewScorer(cfg),
		cfg:    cfg,
		queue:  queue,
		now:    time.Now,
	}
}

const maxReasonLength = 500

// matchable reports whether the engine may still (re)score a document.
func matchable(s models.DocumentStatus) bool {
	return s == models.DocumentProcessing || s == models.DocumentPendingReview
}

// closedError reports a review decision on a document that already has one.
func closedError(doc *models.InvoiceDocument) error {
	return &apperr.Error{
		Code:    apperr.CodeConflict,
		Message: fmt.Sprintf("invoice document %s is already %s", doc.ID, doc.Status),
		Details: map[string]any{"entity": "invoice document", "id": doc.ID, "status": string(doc.Status)},
	}
}

func getDocument(ctx context.Context, repo storage.Repository, tenantID, docID string) (*models.InvoiceDocument, error) {
	doc, err := repo.GetInvoiceDocument(ctx, tenantID, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("invoice document", docID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return doc, nil
}

// saveDocument writes doc when the stored version still equals expected.
func (e *Engine) saveDocument(ctx context.Context, repo storage.Repository, doc *models.InvoiceDocument, expected int64) error {
	doc.Version = expected + 1
	doc.UpdatedAt = e.now().Unix()

	err := repo.UpdateInvoiceDocument(ctx, doc, expected)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return apperr.Conflict("invoice document", doc.ID)
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("invoice document", doc.ID)
	case err != nil:
		return apperr.Internal(err)
	}
	return nil
}

// rank scores every obligation, best first. Equal scores keep the store
// order, which is oldest first.
func (e *Engine) rank(doc *models.InvoiceDocument, items []models.CostItem) []models.MatchCandidate {
	fields := doc.Effective()
	candidates := make([]models.MatchCandidate, 0, len(items))
	for i := range items {
		candidates = append(candidates, e.scorer.Score(fields, doc.SenderEmail, items[i].Obligation()))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// Match scores a document and either auto-matches it with the best
// obligation or leaves it for review. Documents a reviewer already closed
// are returned unchanged.
func (e *Engine) Match(ctx context.Context, tenantID, docID string) (*models.InvoiceDocument, error) {
	doc, err := getDocument(ctx, e.store, tenantID, docID)
	if err != nil {
		return nil, err
	}
	if !matchable(doc.Status) {
		metrics.InvoiceMatches.WithLabelValues("skipped").Inc()
		slog.Info("Match skipped", "document_id", docID, "status", doc.Status)
		return doc, nil
	}

	items, err := e.store.ListObligations(ctx, tenantID, doc.JobID)
	if err != nil {
		slog.Error("ListObligations failed", "error", err, "tenant_id", tenantID, "document_id", docID)
		return nil, apperr.Internal(err)
	}

	candidates := e.rank(doc, items)
	top := candidates
	if n := e.cfg.TopCandidates; n > 0 && len(top) > n {
		top = top[:n]
	}
	doc.Candidates = top

	if len(candidates) == 0 {
		metrics.InvoiceMatches.WithLabelValues("no_candidates").Inc()
		return e.markPendingReview(ctx, doc, 0)
	}

	best := candidates[0]
	metrics.MatchConfidence.Observe(best.Score)
	if best.Score < e.cfg.AutoMatchThreshold {
		metrics.InvoiceMatches.WithLabelValues("pending_review").Inc()
		slog.Info("Document left for review", "document_id", docID, "best_score", best.Score, "cost_item_id", best.CostItemID)
		return e.markPendingReview(ctx, doc, best.Score)
	}

	matched, err := e.autoMatch(ctx, doc, best)
	if err == nil {
		metrics.InvoiceMatches.WithLabelValues("auto_matched").Inc()
		slog.Info("Document auto-matched", "document_id", docID, "cost_item_id", best.CostItemID, "score", best.Score)
		return matched, nil
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeConflict, apperr.CodeBusinessRule, apperr.CodeNotFound:
	default:
		slog.Error("Auto-match failed", "error", err, "tenant_id", tenantID, "document_id", docID, "cost_item_id", best.CostItemID)
		return nil, err
	}

	slog.Warn("Auto-match lost a race, leaving document for review",
		"error", err, "document_id", docID, "cost_item_id", best.CostItemID)
	doc, err = getDocument(ctx, e.store, tenantID, docID)
	if err != nil {
		return nil, err
	}
	if !matchable(doc.Status) {
		return doc, nil
	}
	doc.Candidates = top
	metrics.InvoiceMatches.WithLabelValues("pending_review").Inc()
	return e.markPendingReview(ctx, doc, best.Score)
}

func (e *Engine) markPendingReview(ctx context.Context, doc *models.InvoiceDocument, confidence float64) (*models.InvoiceDocument, error) {
	next := *doc
	next.Status = models.DocumentPendingReview
	next.CostItemID = ""
	next.MatchMethod = ""
	next.Confidence = confidence

	if err := e.saveDocument(ctx, e.store, &next, doc.Version); err != nil {
		slog.Error("Saving review state failed", "error", err, "document_id", doc.ID)
		return nil, err
	}
	return &next, nil
}

// autoMatch links the document and the item in one transaction. The item
// advances to invoice received but never to paid.
func (e *Engine) autoMatch(ctx context.Context, doc *models.InvoiceDocument, best models.MatchCandidate) (*models.InvoiceDocument, error) {
	var result *models.InvoiceDocument
	err := e.ctl.Within(ctx, auth.System(doc.TenantID), func(tx *lifecycle.Tx) error {
		current, err := getDocument(ctx, tx.Repo(), doc.TenantID, doc.ID)
		if err != nil {
			return err
		}
		if current.Version != doc.Version {
			return apperr.Conflict("invoice document", doc.ID)
		}

		item, err := tx.Get(ctx, best.CostItemID)
		if err != nil {
			return err
		}
		fields := current.Effective()
		desc := fmt.Sprintf("Invoice %s auto-matched with confidence %.2f", current.FileName, best.Score)
		if _, err := tx.Apply(ctx, item.ID, e.linkChange(item, current, fields, models.EventInvoiceAutoMatched, desc)); err != nil {
			return err
		}

		next := *current
		next.Status = models.DocumentAutoMatched
		next.CostItemID = item.ID
		next.Confidence = best.Score
		next.MatchMethod = models.MatchAuto
		next.Candidates = doc.Candidates
		if err := e.saveDocument(ctx, tx.Repo(), &next, current.Version); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// linkChange attaches doc to item and marks its invoice received.
func (e *Engine) linkChange(item *models.CostItem, doc *models.InvoiceDocument, fields models.InvoiceFields, event, desc string) lifecycle.Change {
	received := models.InvoiceReceived
	ch := lifecycle.Change{
		InvoiceRequestStatus: &received,
		ExpectedVersion:      item.Version,
		Event:                event,
		Description:          desc,
	}
	if item.ItemStatus != models.ItemInvoiceReceived && lifecycle.CanTransition(item.ItemStatus, models.ItemInvoiceReceived) {
		st := models.ItemInvoiceReceived
		ch.ItemStatus = &st
	}

	amountOK := fields.Value.Valid && e.scorer.amountScore(fields.Value, item.TotalWithOvertime) == 1
	ch.Mutate = func(next *models.CostItem) error {
		if next.IsCategoryHeader {
			return apperr.BusinessRule("cost item %s is a category header and cannot receive an invoice", next.ID)
		}
		if next.ItemStatus == models.ItemCancelled {
			return apperr.BusinessRule("cost item %s is cancelled", next.ID)
		}
		if next.InvoiceDocumentID != "" && next.InvoiceDocumentID != doc.ID {
			return apperr.BusinessRule("cost item %s already has invoice document %s", next.ID, next.InvoiceDocumentID).
				WithDetail("invoice_document_id", next.InvoiceDocumentID)
		}
		next.InvoiceDocumentID = doc.ID
		next.InvoiceValue = fields.Value
		next.InvoiceValidationOK = amountOK
		return nil
	}
	return ch
}

// unlinkChange returns item to waiting for its invoice.
func unlinkChange(item *models.CostItem, doc *models.InvoiceDocument) lifecycle.Change {
	irs := models.InvoicePending
	if item.InvoiceRequestedAt != 0 {
		irs = models.InvoiceRequested
	}
	ch := lifecycle.Change{
		InvoiceRequestStatus: &irs,
		ExpectedVersion:      item.Version,
		Event:                models.EventInvoiceReassigned,
		Description:          fmt.Sprintf("Invoice %s moved to another cost item", doc.FileName),
		Mutate: func(next *models.CostItem) error {
			next.InvoiceDocumentID = ""
			next.InvoiceValue.Valid = false
			next.InvoiceValidationOK = false
			return nil
		},
	}
	if item.ItemStatus == models.ItemInvoiceReceived {
		st := models.ItemAwaitingInvoice
		ch.ItemStatus = &st
	}
	return ch
}

// Confirm closes a document as settling costItemID, which defaults to the
// proposed match. confirmed overrides the extracted fields when not nil.
func (e *Engine) Confirm(ctx context.Context, actor auth.Principal, docID, costItemID string, confirmed *models.InvoiceFields) (*models.InvoiceDocument, error) {
	slog.Info("ConfirmInvoice request received", "tenant_id", actor.TenantID, "document_id", docID, "cost_item_id", costItemID)
	return e.review(ctx, actor, docID, costItemID, confirmed, "confirm")
}

// Reassign closes a document as settling a different obligation than the
// proposed one, rolling the previous item back.
func (e *Engine) Reassign(ctx context.Context, actor auth.Principal, docID, costItemID string) (*models.InvoiceDocument, error) {
	slog.Info("ReassignInvoice request received", "tenant_id", actor.TenantID, "document_id", docID, "cost_item_id", costItemID)
	if costItemID == "" {
		return nil, apperr.Validation("cost_item_id", "cost_item_id is required")
	}
	return e.review(ctx, actor, docID, costItemID, nil, "reassign")
}

func validateFields(f models.InvoiceFields) error {
	if !f.HasIdentifier() {
		return apperr.Validation("issuer_tax_id", "an issuer name, tax id or invoice number is required")
	}
	if !f.Value.Valid {
		return apperr.Validation("value", "invoice value is required")
	}
	if f.Value.Decimal.IsNegative() {
		return apperr.Validation("value", "invoice value must not be negative")
	}
	if f.IssueDate != "" {
		if _, err := time.Parse(time.DateOnly, f.IssueDate); err != nil {
			return apperr.Validation("issue_date", "issue_date must be YYYY-MM-DD")
		}
	}
	return nil
}

func (e *Engine) review(ctx context.Context, actor auth.Principal, docID, costItemID string, confirmed *models.InvoiceFields, action string) (*models.InvoiceDocument, error) {
	var result *models.InvoiceDocument
	err := e.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		doc, err := getDocument(ctx, tx.Repo(), actor.TenantID, docID)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return closedError(doc)
		}

		itemID := costItemID
		if itemID == "" {
			itemID = doc.CostItemID
		}
		if itemID == "" {
			return apperr.Validation("cost_item_id", "cost_item_id is required to confirm a match")
		}
		fields := doc.Extracted
		if confirmed != nil {
			fields = *confirmed
		}
		if err := validateFields(fields); err != nil {
			return err
		}

		event := models.EventInvoiceConfirmed
		if prev := doc.CostItemID; prev != "" && prev != itemID {
			event = models.EventInvoiceReassigned
			if err := e.release(ctx, tx, prev, doc); err != nil {
				return err
			}
		}
		if action == "reassign" {
			event = models.EventInvoiceReassigned
		}

		item, err := tx.Get(ctx, itemID)
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("Invoice %s confirmed by %s", doc.FileName, actor.UserID)
		if _, err := tx.Apply(ctx, itemID, e.linkChange(item, doc, fields, event, desc)); err != nil {
			return err
		}

		next := *doc
		next.Status = models.DocumentConfirmed
		next.CostItemID = itemID
		next.MatchMethod = models.MatchManual
		next.Confirmed = &fields
		next.ReviewedBy = actor.UserID
		next.ReviewedAt = e.now().Unix()
		next.RejectionReason = ""
		if err := e.saveDocument(ctx, tx.Repo(), &next, doc.Version); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("Invoice review failed", "error", err, "action", action,
				"tenant_id", actor.TenantID, "actor_id", actor.UserID, "document_id", docID, "cost_item_id", costItemID)
		}
		return nil, err
	}

	metrics.InvoiceReviews.WithLabelValues(action).Inc()
	slog.Info("Invoice document confirmed", "document_id", docID, "cost_item_id", result.CostItemID, "action", action)
	return result, nil
}

// release rolls back the item a document was previously attached to. Items
// that were deleted or no longer point at the document are left alone.
func (e *Engine) release(ctx context.Context, tx *lifecycle.Tx, itemID string, doc *models.InvoiceDocument) error {
	prev, err := tx.Get(ctx, itemID)
	if apperr.CodeOf(err) == apperr.CodeNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if prev.InvoiceDocumentID != doc.ID {
		return nil
	}
	_, err = tx.Apply(ctx, itemID, unlinkChange(prev, doc))
	return err
}

// detach drops the link between a rejected document and the item it was
// auto-matched to so another document can settle the item. Statuses are
// left as they are.
func (e *Engine) detach(ctx context.Context, tx *lifecycle.Tx, doc *models.InvoiceDocument, desc string) error {
	item, err := tx.Get(ctx, doc.CostItemID)
	if apperr.CodeOf(err) == apperr.CodeNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if item.InvoiceDocumentID != doc.ID {
		tx.Record(item, models.EventInvoiceRejected, desc)
		return nil
	}
	_, err = tx.Apply(ctx, item.ID, lifecycle.Change{
		ExpectedVersion: item.Version,
		Event:           models.EventInvoiceRejected,
		Description:     desc,
		Mutate: func(next *models.CostItem) error {
			next.InvoiceDocumentID = ""
			next.InvoiceValue.Valid = false
			next.InvoiceValidationOK = false
			return nil
		},
	})
	return err
}

// Reject closes a document without settling any obligation. The item a
// document was auto-matched to keeps its statuses but loses the link.
func (e *Engine) Reject(ctx context.Context, actor auth.Principal, docID, reason string) (*models.InvoiceDocument, error) {
	slog.Info("RejectInvoice request received", "tenant_id", actor.TenantID, "document_id", docID)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "a rejection reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, apperr.Validation("reason", "reason must be at most %d characters", maxReasonLength)
	}

	var result *models.InvoiceDocument
	err := e.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		doc, err := getDocument(ctx, tx.Repo(), actor.TenantID, docID)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return closedError(doc)
		}

		if doc.CostItemID != "" {
			if err := e.detach(ctx, tx, doc, fmt.Sprintf("Invoice %s rejected: %s", doc.FileName, reason)); err != nil {
				return err
			}
		}

		next := *doc
		next.Status = models.DocumentRejected
		next.CostItemID = ""
		next.MatchMethod = ""
		next.RejectionReason = reason
		next.ReviewedBy = actor.UserID
		next.ReviewedAt = e.now().Unix()
		if err := e.saveDocument(ctx, tx.Repo(), &next, doc.Version); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("RejectInvoice failed", "error", err, "tenant_id", actor.TenantID, "document_id", docID)
		}
		return nil, err
	}

	metrics.InvoiceReviews.WithLabelValues("reject").Inc()
	slog.Info("Invoice document rejected", "document_id", docID)
	return result, nil
}

// GetDocument returns one document of the actor's tenant.
func (e *Engine) GetDocument(ctx context.Context, actor auth.Principal, docID string) (*models.InvoiceDocument, error) {
	doc, err := getDocument(ctx, e.store, actor.TenantID, docID)
	if err != nil && apperr.CodeOf(err) == apperr.CodeInternal {
		slog.Error("GetInvoiceDocument failed", "error", err, "tenant_id", actor.TenantID, "document_id", docID)
	}
	return doc, err
}

// ListDocuments returns one page of documents and the total number of
// matches.
func (e *Engine) ListDocuments(ctx context.Context, actor auth.Principal, filter storage.DocumentFilter) ([]models.InvoiceDocument, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperr.Validation("status", "unknown document status %q", filter.Status)
	}
	if filter.ReceivedFrom != 0 && filter.ReceivedTo != 0 && filter.ReceivedFrom > filter.ReceivedTo {
		return nil, 0, apperr.Validation("received_from", "received_from must not be after received_to")
	}
	if filter.Sort != "" {
		allowed := false
		for _, c := range storage.DocumentSortColumns {
			if c == filter.Sort {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, 0, apperr.Validation("sort", "cannot sort by %q", filter.Sort).
				WithDetail("allowed", storage.DocumentSortColumns)
		}
	}

	docs, total, err := e.store.ListInvoiceDocuments(ctx, actor.TenantID, filter)
	if err != nil {
		slog.Error("ListInvoiceDocuments failed", "error", err, "tenant_id", actor.TenantID)
		return nil, 0, apperr.Internal(err)
	}
	return docs, total, nil
}
