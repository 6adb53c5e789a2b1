package matching

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

// DefaultSource labels documents whose pipeline did not name itself.
const DefaultSource = "email"

// IngestInput is an already extracted invoice delivered by the ingestion
// pipeline.
type IngestInput struct {
	JobID       string               `json:"job_id"`
	Source      string               `json:"source"`
	SenderEmail string               `json:"sender_email"`
	SenderName  string               `json:"sender_name"`
	Subject     string               `json:"subject"`
	FileName    string               `json:"file_name"`
	ContentHash string               `json:"content_hash"`
	FileSize    int64                `json:"file_size"`
	ReceivedAt  int64                `json:"received_at"`
	Extracted   models.InvoiceFields `json:"extracted"`
}

func (in IngestInput) validate() error {
	if strings.TrimSpace(in.FileName) == "" {
		return apperr.Validation("file_name", "file_name is required")
	}
	if strings.TrimSpace(in.ContentHash) == "" {
		return apperr.Validation("content_hash", "content_hash is required")
	}
	if in.FileSize < 0 {
		return apperr.Validation("file_size", "file_size must not be negative")
	}
	if in.Extracted.Value.Valid && in.Extracted.Value.Decimal.IsNegative() {
		return apperr.Validation("value", "invoice value must not be negative")
	}
	if in.Extracted.IssueDate != "" {
		if _, err := time.Parse(time.DateOnly, in.Extracted.IssueDate); err != nil {
			return apperr.Validation("issue_date", "issue_date must be YYYY-MM-DD")
		}
	}
	return nil
}

// Ingest stores a new document and queues it for matching. A document whose
// content hash the tenant already has is returned as is with duplicate set.
func (e *Engine) Ingest(ctx context.Context, actor auth.Principal, in IngestInput) (doc *models.InvoiceDocument, duplicate bool, err error) {
	slog.Info("Ingest request received",
		"tenant_id", actor.TenantID,
		"file_name", in.FileName,
		"content_hash", in.ContentHash,
		"source", in.Source,
	)

	if err := in.validate(); err != nil {
		return nil, false, err
	}
	if in.JobID != "" {
		if _, err := e.store.GetJob(ctx, actor.TenantID, in.JobID); errors.Is(err, storage.ErrNotFound) {
			return nil, false, apperr.NotFound("job", in.JobID)
		} else if err != nil {
			return nil, false, apperr.Internal(err)
		}
	}

	if existing, err := e.findByHash(ctx, actor.TenantID, in.ContentHash); err != nil || existing != nil {
		return existing, existing != nil, err
	}

	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = DefaultSource
	}
	doc = &models.InvoiceDocument{
		TenantID:    actor.TenantID,
		JobID:       in.JobID,
		Source:      source,
		SenderEmail: strings.TrimSpace(in.SenderEmail),
		SenderName:  strings.TrimSpace(in.SenderName),
		Subject:     in.Subject,
		FileName:    strings.TrimSpace(in.FileName),
		ContentHash: strings.TrimSpace(in.ContentHash),
		FileSize:    in.FileSize,
		ReceivedAt:  in.ReceivedAt,
		Extracted:   in.Extracted,
		Status:      models.DocumentProcessing,
		Version:     1,
		CreatedAt:   e.now().Unix(),
	}
	doc.UpdatedAt = doc.CreatedAt

	err = e.store.CreateInvoiceDocument(ctx, doc)
	if errors.Is(err, storage.ErrDuplicate) {
		existing, ferr := e.findByHash(ctx, actor.TenantID, in.ContentHash)
		if ferr != nil || existing == nil {
			return nil, false, apperr.Internal(err)
		}
		return existing, true, nil
	}
	if err != nil {
		slog.Error("CreateInvoiceDocument failed", "error", err, "tenant_id", actor.TenantID, "content_hash", in.ContentHash)
		return nil, false, apperr.Internal(err)
	}

	e.enqueue(ctx, doc)
	slog.Info("Invoice document ingested", "document_id", doc.ID)
	return doc, false, nil
}

func (e *Engine) findByHash(ctx context.Context, tenantID, hash string) (*models.InvoiceDocument, error) {
	doc, err := e.store.FindInvoiceDocumentByHash(ctx, tenantID, strings.TrimSpace(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		slog.Error("FindInvoiceDocumentByHash failed", "error", err, "tenant_id", tenantID)
		return nil, apperr.Internal(err)
	}
	return doc, nil
}

// enqueue hands the document to the workers. A failed enqueue is logged; the
// sweeper picks the document up once it is stale.
func (e *Engine) enqueue(ctx context.Context, doc *models.InvoiceDocument) bool {
	if e.queue == nil {
		return false
	}
	if err := e.queue.Enqueue(ctx, Job{TenantID: doc.TenantID, DocumentID: doc.ID}); err != nil {
		slog.Warn("Match job enqueue failed", "error", err, "document_id", doc.ID)
		return false
	}
	return true
}

// Rematch queues a document that is still open for another matching run.
func (e *Engine) Rematch(ctx context.Context, actor auth.Principal, docID string) (*models.InvoiceDocument, error) {
	slog.Info("Rematch request received", "tenant_id", actor.TenantID, "document_id", docID)

	doc, err := getDocument(ctx, e.store, actor.TenantID, docID)
	if err != nil {
		return nil, err
	}
	if !matchable(doc.Status) {
		return nil, apperr.BusinessRule("invoice document %s is %s and cannot be matched again", docID, doc.Status).
			WithDetail("status", string(doc.Status))
	}
	if !e.enqueue(ctx, doc) {
		return nil, apperr.Internal(errors.New("match queue unavailable"))
	}
	return doc, nil
}
