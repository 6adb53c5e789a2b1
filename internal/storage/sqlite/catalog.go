package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

// CreateJob persists a new job.
func (r *repo) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = now()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, code, title, production_type, contracted_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.Code, job.Title, job.ProductionType, job.ContractedValue, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID within a tenant.
func (r *repo) GetJob(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	job := &models.Job{}
	err := r.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, code, title, production_type, contracted_value, created_at
		 FROM jobs WHERE id = ? AND tenant_id = ?`,
		jobID, tenantID,
	).Scan(&job.ID, &job.TenantID, &job.Code, &job.Title, &job.ProductionType, &job.ContractedValue, &job.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// CreateCategory persists a category template entry.
func (r *repo) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO categories (id, tenant_id, production_type, item_number, name, active)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.ProductionType, c.ItemNumber, c.Name, boolInt(c.Active),
	)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

// ListCategories returns the active categories of the given production types,
// ordered by item number.
func (r *repo) ListCategories(ctx context.Context, tenantID string, productionTypes []string) ([]models.Category, error) {
	if len(productionTypes) == 0 {
		return nil, nil
	}

	args := []any{tenantID}
	for _, pt := range productionTypes {
		args = append(args, pt)
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, tenant_id, production_type, item_number, name, active
		 FROM categories
		 WHERE tenant_id = ? AND active = 1 AND production_type IN (`+placeholders(len(productionTypes))+`)
		 ORDER BY item_number, production_type`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.TenantID, &c.ProductionType, &c.ItemNumber, &c.Name, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}

// CreateVendor persists a vendor with its optional primary payout account.
func (r *repo) CreateVendor(ctx context.Context, v *models.Vendor) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}

	var pix, bank, agency, account sql.NullString
	if a := v.PrimaryAccount; a != nil {
		pix = sql.NullString{String: a.PixKey, Valid: true}
		bank = sql.NullString{String: a.BankName, Valid: true}
		agency = sql.NullString{String: a.Agency, Valid: true}
		account = sql.NullString{String: a.Account, Valid: true}
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO vendors (id, tenant_id, name, email, tax_id, pix_key, bank_name, agency, account)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TenantID, v.Name, v.Email, v.TaxID, pix, bank, agency, account,
	)
	if err != nil {
		return fmt.Errorf("failed to insert vendor: %w", err)
	}
	return nil
}

// GetVendor retrieves a vendor by ID within a tenant.
func (r *repo) GetVendor(ctx context.Context, tenantID, vendorID string) (*models.Vendor, error) {
	v := &models.Vendor{}
	var pix, bank, agency, account sql.NullString
	err := r.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, email, tax_id, pix_key, bank_name, agency, account
		 FROM vendors WHERE id = ? AND tenant_id = ?`,
		vendorID, tenantID,
	).Scan(&v.ID, &v.TenantID, &v.Name, &v.Email, &v.TaxID, &pix, &bank, &agency, &account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vendor %s: %w", vendorID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}

	if pix.Valid || bank.Valid || agency.Valid || account.Valid {
		v.PrimaryAccount = &models.PayoutAccount{
			PixKey:   pix.String,
			BankName: bank.String,
			Agency:   agency.String,
			Account:  account.String,
		}
	}
	return v, nil
}
