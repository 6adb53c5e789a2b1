// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/payables/internal/models"
)

var (
	// ErrNotFound is returned when a row is absent, tombstoned or belongs to
	// another tenant.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by compare-and-swap updates when the stored
	// version no longer matches the expected one.
	ErrConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate")
)

// Repository holds the data operations. Every method is scoped by tenant.
type Repository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, tenantID, jobID string) (*models.Job, error)

	CreateCategory(ctx context.Context, c *models.Category) error
	// ListCategories returns active categories of the given production types.
	ListCategories(ctx context.Context, tenantID string, productionTypes []string) ([]models.Category, error)

	CreateVendor(ctx context.Context, v *models.Vendor) error
	GetVendor(ctx context.Context, tenantID, vendorID string) (*models.Vendor, error)

	// CreateCostItem inserts a new item. ID, Version and timestamps are set
	// by the store when empty.
	CreateCostItem(ctx context.Context, item *models.CostItem) error
	GetCostItem(ctx context.Context, tenantID, itemID string) (*models.CostItem, error)
	ListCostItems(ctx context.Context, tenantID string, filter CostItemFilter) ([]models.CostItem, int, error)
	// ListObligations returns live, non-header items of a tenant (optionally
	// of one job) that are waiting for an invoice, oldest first.
	ListObligations(ctx context.Context, tenantID, jobID string) ([]models.CostItem, error)
	// UpdateCostItem writes item only if the stored version equals
	// expectedVersion. item.Version must already hold the new version.
	UpdateCostItem(ctx context.Context, item *models.CostItem, expectedVersion int64) error

	CreateInvoiceDocument(ctx context.Context, doc *models.InvoiceDocument) error
	GetInvoiceDocument(ctx context.Context, tenantID, docID string) (*models.InvoiceDocument, error)
	FindInvoiceDocumentByHash(ctx context.Context, tenantID, contentHash string) (*models.InvoiceDocument, error)
	ListInvoiceDocuments(ctx context.Context, tenantID string, filter DocumentFilter) ([]models.InvoiceDocument, int, error)
	// ListStaleDocuments returns documents of any tenant left in processing
	// since before the given Unix time.
	ListStaleDocuments(ctx context.Context, before int64, limit int) ([]models.InvoiceDocument, error)
	UpdateInvoiceDocument(ctx context.Context, doc *models.InvoiceDocument, expectedVersion int64) error
	// CountInvoiceDocuments returns the number of documents per status,
	// optionally only those reviewed at or after reviewedSince.
	CountInvoiceDocuments(ctx context.Context, tenantID string, reviewedSince int64) (map[models.DocumentStatus]int, error)

	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, tenantID, costItemID string) ([]models.AuditEntry, error)

	RecordDispatchOutcome(ctx context.Context, outcome *models.DispatchOutcome) error
	ListDispatchOutcomes(ctx context.Context, tenantID, dispatchID string) ([]models.DispatchOutcome, error)
}

// Store is a Repository that can run a function inside one transaction.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	Repository

	// InTx runs fn against a transactional repository. The transaction
	// commits when fn returns nil and rolls back otherwise. fn must not
	// use the outer Store.
	InTx(ctx context.Context, fn func(Repository) error) error

	// Close releases any resources held by the store.
	Close() error
}

// Page selects a window of a sorted list.
type Page struct {
	Page    int
	PerPage int
	Sort    string
	Desc    bool
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// CostItemFilter narrows ListCostItems. Zero values do not filter.
type CostItemFilter struct {
	JobID                string
	PeriodMonth          string
	ItemStatus           models.ItemStatus
	InvoiceRequestStatus models.InvoiceRequestStatus
	HeadersOnly          bool
	// WithoutInvoice keeps non-header items with no linked invoice.
	WithoutInvoice bool
	Page
}

// DocumentFilter narrows ListInvoiceDocuments. Zero values do not filter.
type DocumentFilter struct {
	Status models.DocumentStatus
	JobID  string
	// Query matches sender, subject, file name, issuer and invoice number.
	Query string
	// ReceivedFrom and ReceivedTo bound received_at, inclusive, in Unix seconds.
	ReceivedFrom int64
	ReceivedTo   int64
	Page
}

// CostItemSortColumns and DocumentSortColumns are the accepted Sort values.
var (
	CostItemSortColumns = []string{"item_number", "created_at", "updated_at", "due_date", "total_with_overtime", "item_status"}
	DocumentSortColumns = []string{"created_at", "updated_at", "received_at", "status", "sender_email", "sender_name", "file_name", "match_confidence"}
)
