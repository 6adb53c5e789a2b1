package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

const costItemColumns = `id, tenant_id, job_id, period_month, item_number, sub_item_number, is_category_header,
	description, unit_value, quantity, line_total, overtime_hours, overtime_rate, overtime_total,
	total_with_overtime, payment_condition, due_date, payment_method,
	vendor_id, vendor_name, vendor_email, vendor_tax_id, vendor_payout_key, vendor_bank_name,
	item_status, invoice_request_status, payment_status, invoice_requested_at, invoice_requested_by,
	invoice_document_id, invoice_value, invoice_validation_ok, actual_paid_value, payment_date, notes,
	version, created_by, created_at, updated_at, deleted_at`

var costItemSortColumns = map[string]string{
	"item_number":         "item_number, sub_item_number",
	"total_with_overtime": "total_sort",
}

func scanCostItem(row scanner) (*models.CostItem, error) {
	var c models.CostItem
	var jobID sql.NullString
	err := row.Scan(
		&c.ID, &c.TenantID, &jobID, &c.PeriodMonth, &c.ItemNumber, &c.SubItemNumber, &c.IsCategoryHeader,
		&c.Description, &c.UnitValue, &c.Quantity, &c.LineTotal, &c.OvertimeHours, &c.OvertimeRate, &c.OvertimeTotal,
		&c.TotalWithOvertime, &c.PaymentCondition, &c.DueDate, &c.PaymentMethod,
		&c.Counterparty.VendorID, &c.Counterparty.Name, &c.Counterparty.Email, &c.Counterparty.TaxID,
		&c.Counterparty.PayoutKey, &c.Counterparty.BankName,
		&c.ItemStatus, &c.InvoiceRequestStatus, &c.PaymentStatus, &c.InvoiceRequestedAt, &c.InvoiceRequestedBy,
		&c.InvoiceDocumentID, &c.InvoiceValue, &c.InvoiceValidationOK, &c.ActualPaidValue, &c.PaymentDate, &c.Notes,
		&c.Version, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	c.JobID = jobID.String
	return &c, nil
}

func scanCostItems(rows *sql.Rows) ([]models.CostItem, error) {
	defer rows.Close()

	var items []models.CostItem
	for rows.Next() {
		item, err := scanCostItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cost item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cost items: %w", err)
	}
	return items, nil
}

// CreateCostItem persists a new cost item.
func (r *repo) CreateCostItem(ctx context.Context, c *models.CostItem) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = now()
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = c.CreatedAt
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO cost_items (`+costItemColumns+`, total_sort)
		 VALUES (`+placeholders(41)+`)`,
		c.ID, c.TenantID, nullString(c.JobID), c.PeriodMonth, c.ItemNumber, c.SubItemNumber, boolInt(c.IsCategoryHeader),
		c.Description, c.UnitValue, c.Quantity, c.LineTotal, c.OvertimeHours, c.OvertimeRate, c.OvertimeTotal,
		c.TotalWithOvertime, string(c.PaymentCondition), c.DueDate, string(c.PaymentMethod),
		c.Counterparty.VendorID, c.Counterparty.Name, c.Counterparty.Email, c.Counterparty.TaxID,
		c.Counterparty.PayoutKey, c.Counterparty.BankName,
		string(c.ItemStatus), string(c.InvoiceRequestStatus), string(c.PaymentStatus), c.InvoiceRequestedAt, c.InvoiceRequestedBy,
		c.InvoiceDocumentID, c.InvoiceValue, boolInt(c.InvoiceValidationOK), c.ActualPaidValue, c.PaymentDate, c.Notes,
		c.Version, c.CreatedBy, c.CreatedAt, c.UpdatedAt, c.DeletedAt,
		c.TotalWithOvertime.InexactFloat64(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cost item: %w", err)
	}
	return nil
}

// GetCostItem retrieves a live cost item by ID within a tenant.
func (r *repo) GetCostItem(ctx context.Context, tenantID, itemID string) (*models.CostItem, error) {
	item, err := scanCostItem(r.q.QueryRowContext(ctx,
		`SELECT `+costItemColumns+` FROM cost_items WHERE id = ? AND tenant_id = ? AND deleted_at = 0`,
		itemID, tenantID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cost item %s: %w", itemID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cost item: %w", err)
	}
	return item, nil
}

// ListCostItems returns one page of live cost items and the total count.
func (r *repo) ListCostItems(ctx context.Context, tenantID string, f storage.CostItemFilter) ([]models.CostItem, int, error) {
	where := []string{"tenant_id = ?", "deleted_at = 0"}
	args := []any{tenantID}
	if f.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, f.JobID)
	}
	if f.PeriodMonth != "" {
		where = append(where, "period_month = ?")
		args = append(args, f.PeriodMonth)
	}
	if f.ItemStatus != "" {
		where = append(where, "item_status = ?")
		args = append(args, string(f.ItemStatus))
	}
	if f.InvoiceRequestStatus != "" {
		where = append(where, "invoice_request_status = ?")
		args = append(args, string(f.InvoiceRequestStatus))
	}
	if f.HeadersOnly {
		where = append(where, "is_category_header = 1")
	}
	if f.WithoutInvoice {
		where = append(where, "is_category_header = 0", "invoice_document_id = ''")
	}
	clause := strings.Join(where, " AND ")

	order, err := orderBy(f.Sort, f.Desc, storage.CostItemSortColumns, costItemSortColumns,
		"item_number, sub_item_number, created_at, rowid")
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cost_items WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cost items: %w", err)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+costItemColumns+` FROM cost_items WHERE `+clause+` ORDER BY `+order+limitClause(f.Page),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cost items: %w", err)
	}
	items, err := scanCostItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListObligations returns the items still waiting for an invoice, in
// creation order.
func (r *repo) ListObligations(ctx context.Context, tenantID, jobID string) ([]models.CostItem, error) {
	query := `SELECT ` + costItemColumns + ` FROM cost_items
		WHERE tenant_id = ? AND deleted_at = 0 AND is_category_header = 0
		  AND invoice_document_id = '' AND item_status <> ?
		  AND invoice_request_status IN (?, ?)`
	args := []any{tenantID, string(models.ItemCancelled), string(models.InvoicePending), string(models.InvoiceRequested)}
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list obligations: %w", err)
	}
	return scanCostItems(rows)
}

// UpdateCostItem writes every mutable column when the stored version still
// equals expectedVersion.
func (r *repo) UpdateCostItem(ctx context.Context, c *models.CostItem, expectedVersion int64) error {
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now()
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE cost_items SET
			period_month = ?, item_number = ?, sub_item_number = ?, description = ?,
			unit_value = ?, quantity = ?, line_total = ?, overtime_hours = ?, overtime_rate = ?,
			overtime_total = ?, total_with_overtime = ?, total_sort = ?,
			payment_condition = ?, due_date = ?, payment_method = ?,
			vendor_id = ?, vendor_name = ?, vendor_email = ?, vendor_tax_id = ?, vendor_payout_key = ?, vendor_bank_name = ?,
			item_status = ?, invoice_request_status = ?, payment_status = ?,
			invoice_requested_at = ?, invoice_requested_by = ?,
			invoice_document_id = ?, invoice_value = ?, invoice_validation_ok = ?,
			actual_paid_value = ?, payment_date = ?, notes = ?,
			version = ?, updated_at = ?, deleted_at = ?
		 WHERE id = ? AND tenant_id = ? AND version = ? AND deleted_at = 0`,
		c.PeriodMonth, c.ItemNumber, c.SubItemNumber, c.Description,
		c.UnitValue, c.Quantity, c.LineTotal, c.OvertimeHours, c.OvertimeRate,
		c.OvertimeTotal, c.TotalWithOvertime, c.TotalWithOvertime.InexactFloat64(),
		string(c.PaymentCondition), c.DueDate, string(c.PaymentMethod),
		c.Counterparty.VendorID, c.Counterparty.Name, c.Counterparty.Email, c.Counterparty.TaxID,
		c.Counterparty.PayoutKey, c.Counterparty.BankName,
		string(c.ItemStatus), string(c.InvoiceRequestStatus), string(c.PaymentStatus),
		c.InvoiceRequestedAt, c.InvoiceRequestedBy,
		c.InvoiceDocumentID, c.InvoiceValue, boolInt(c.InvoiceValidationOK),
		c.ActualPaidValue, c.PaymentDate, c.Notes,
		c.Version, c.UpdatedAt, c.DeletedAt,
		c.ID, c.TenantID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update cost item: %w", err)
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
		`SELECT 1 FROM cost_items WHERE id = ? AND tenant_id = ? AND deleted_at = 0`,
		c.ID, c.TenantID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("cost item %s: %w", c.ID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check cost item: %w", err)
	}
	return fmt.Errorf("cost item %s at version %d: %w", c.ID, expectedVersion, storage.ErrConflict)
}
