package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

const documentColumns = `id, tenant_id, job_id, source, sender_email, sender_name, subject, file_name,
	content_hash, file_size, received_at, extracted, confirmed, status, cost_item_id, match_confidence,
	match_method, candidates, reviewed_by, reviewed_at, rejection_reason, version, created_at, updated_at`

func scanDocument(row scanner) (*models.InvoiceDocument, error) {
	var d models.InvoiceDocument
	var extracted, candidates string
	var confirmed sql.NullString
	err := row.Scan(
		&d.ID, &d.TenantID, &d.JobID, &d.Source, &d.SenderEmail, &d.SenderName, &d.Subject, &d.FileName,
		&d.ContentHash, &d.FileSize, &d.ReceivedAt, &extracted, &confirmed, &d.Status, &d.CostItemID, &d.Confidence,
		&d.MatchMethod, &candidates, &d.ReviewedBy, &d.ReviewedAt, &d.RejectionReason, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(extracted), &d.Extracted); err != nil {
		return nil, fmt.Errorf("failed to decode extracted fields: %w", err)
	}
	if confirmed.Valid {
		d.Confirmed = &models.InvoiceFields{}
		if err := json.Unmarshal([]byte(confirmed.String), d.Confirmed); err != nil {
			return nil, fmt.Errorf("failed to decode confirmed fields: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(candidates), &d.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	return &d, nil
}

func scanDocuments(rows *sql.Rows) ([]models.InvoiceDocument, error) {
	defer rows.Close()

	var docs []models.InvoiceDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice document: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoice documents: %w", err)
	}
	return docs, nil
}

// encodedDocument holds the JSON columns of a document.
type encodedDocument struct {
	extracted  string
	confirmed  sql.NullString
	candidates string
}

func encodeDocument(d *models.InvoiceDocument) (encodedDocument, error) {
	var e encodedDocument

	b, err := json.Marshal(d.Extracted)
	if err != nil {
		return e, fmt.Errorf("failed to encode extracted fields: %w", err)
	}
	e.extracted = string(b)

	if d.Confirmed != nil {
		b, err := json.Marshal(d.Confirmed)
		if err != nil {
			return e, fmt.Errorf("failed to encode confirmed fields: %w", err)
		}
		e.confirmed = sql.NullString{String: string(b), Valid: true}
	}

	candidates := d.Candidates
	if candidates == nil {
		candidates = []models.MatchCandidate{}
	}
	b, err = json.Marshal(candidates)
	if err != nil {
		return e, fmt.Errorf("failed to encode candidates: %w", err)
	}
	e.candidates = string(b)
	return e, nil
}

// CreateInvoiceDocument persists a new document. A second document with the
// same content hash in the tenant fails with storage.ErrDuplicate.
func (r *repo) CreateInvoiceDocument(ctx context.Context, d *models.InvoiceDocument) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Version == 0 {
		d.Version = 1
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = now()
	}
	if d.UpdatedAt == 0 {
		d.UpdatedAt = d.CreatedAt
	}
	if d.ReceivedAt == 0 {
		d.ReceivedAt = d.CreatedAt
	}

	e, err := encodeDocument(d)
	if err != nil {
		return err
	}
	eff := d.Effective()

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO invoice_documents (`+documentColumns+`, issuer_name, invoice_number)
		 VALUES (`+placeholders(26)+`)`,
		d.ID, d.TenantID, d.JobID, d.Source, d.SenderEmail, d.SenderName, d.Subject, d.FileName,
		d.ContentHash, d.FileSize, d.ReceivedAt, e.extracted, e.confirmed, string(d.Status), d.CostItemID, d.Confidence,
		string(d.MatchMethod), e.candidates, d.ReviewedBy, d.ReviewedAt, d.RejectionReason, d.Version, d.CreatedAt, d.UpdatedAt,
		eff.IssuerName, eff.InvoiceNumber,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("invoice document with hash %s: %w", d.ContentHash, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert invoice document: %w", err)
	}
	return nil
}

// GetInvoiceDocument retrieves a document by ID within a tenant.
func (r *repo) GetInvoiceDocument(ctx context.Context, tenantID, docID string) (*models.InvoiceDocument, error) {
	d, err := scanDocument(r.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM invoice_documents WHERE id = ? AND tenant_id = ?`,
		docID, tenantID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice document %s: %w", docID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice document: %w", err)
	}
	return d, nil
}

// FindInvoiceDocumentByHash retrieves the tenant's document with the given
// content hash.
func (r *repo) FindInvoiceDocumentByHash(ctx context.Context, tenantID, contentHash string) (*models.InvoiceDocument, error) {
	d, err := scanDocument(r.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM invoice_documents WHERE tenant_id = ? AND content_hash = ?`,
		tenantID, contentHash,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice document with hash %s: %w", contentHash, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice document: %w", err)
	}
	return d, nil
}

// ListInvoiceDocuments returns one page of documents and the total count.
func (r *repo) ListInvoiceDocuments(ctx context.Context, tenantID string, f storage.DocumentFilter) ([]models.InvoiceDocument, int, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, f.JobID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		var or []string
		for _, col := range []string{"sender_email", "sender_name", "subject", "file_name", "issuer_name", "invoice_number"} {
			or = append(or, col+` LIKE ? ESCAPE '\'`)
			args = append(args, likePattern(q))
		}
		where = append(where, "("+strings.Join(or, " OR ")+")")
	}
	if f.ReceivedFrom > 0 {
		where = append(where, "received_at >= ?")
		args = append(args, f.ReceivedFrom)
	}
	if f.ReceivedTo > 0 {
		where = append(where, "received_at <= ?")
		args = append(args, f.ReceivedTo)
	}
	clause := strings.Join(where, " AND ")

	order, err := orderBy(f.Sort, f.Desc, storage.DocumentSortColumns, nil, "created_at DESC, rowid DESC")
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoice_documents WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count invoice documents: %w", err)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM invoice_documents WHERE `+clause+` ORDER BY `+order+limitClause(f.Page),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list invoice documents: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListStaleDocuments returns documents of any tenant still processing since
// before the given time, oldest first.
func (r *repo) ListStaleDocuments(ctx context.Context, before int64, limit int) ([]models.InvoiceDocument, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM invoice_documents
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at, rowid LIMIT ?`,
		string(models.DocumentProcessing), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale invoice documents: %w", err)
	}
	return scanDocuments(rows)
}

// CountInvoiceDocuments returns the number of documents per status. A
// non-zero reviewedSince only counts documents reviewed at or after it.
func (r *repo) CountInvoiceDocuments(ctx context.Context, tenantID string, reviewedSince int64) (map[models.DocumentStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM invoice_documents WHERE tenant_id = ?`
	args := []any{tenantID}
	if reviewedSince > 0 {
		query += ` AND reviewed_at >= ?`
		args = append(args, reviewedSince)
	}
	query += ` GROUP BY status`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count invoice documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DocumentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan document count: %w", err)
		}
		counts[models.DocumentStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate document counts: %w", err)
	}
	return counts, nil
}

// UpdateInvoiceDocument writes the review state of a document when the
// stored version still equals expectedVersion.
func (r *repo) UpdateInvoiceDocument(ctx context.Context, d *models.InvoiceDocument, expectedVersion int64) error {
	if d.UpdatedAt == 0 {
		d.UpdatedAt = now()
	}
	e, err := encodeDocument(d)
	if err != nil {
		return err
	}
	eff := d.Effective()

	res, err := r.q.ExecContext(ctx,
		`UPDATE invoice_documents SET
			job_id = ?, confirmed = ?, issuer_name = ?, invoice_number = ?,
			status = ?, cost_item_id = ?, match_confidence = ?, match_method = ?, candidates = ?,
			reviewed_by = ?, reviewed_at = ?, rejection_reason = ?, version = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ? AND version = ?`,
		d.JobID, e.confirmed, eff.IssuerName, eff.InvoiceNumber,
		string(d.Status), d.CostItemID, d.Confidence, string(d.MatchMethod), e.candidates,
		d.ReviewedBy, d.ReviewedAt, d.RejectionReason, d.Version, d.UpdatedAt,
		d.ID, d.TenantID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.q.QueryRowContext(ctx,
		`SELECT 1 FROM invoice_documents WHERE id = ? AND tenant_id = ?`, d.ID, d.TenantID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("invoice document %s: %w", d.ID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check invoice document: %w", err)
	}
	return fmt.Errorf("invoice document %s at version %d: %w", d.ID, expectedVersion, storage.ErrConflict)
}
