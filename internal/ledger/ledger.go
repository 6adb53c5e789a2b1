// Package ledger implements the cost item operations: create, update,
// delete, category templates, copies between jobs, budget summaries and the
// tabular export.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/calculator"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

// VendorDirectory resolves counterparties at snapshot time.
type VendorDirectory interface {
	GetVendor(ctx context.Context, tenantID, vendorID string) (*models.Vendor, error)
}

// Service is the cost item ledger.
type Service struct {
	store storage.Store
	ctl   *lifecycle.Controller
	now   func() time.Time
}

// NewService creates a ledger writing through ctl.
func NewService(store storage.Store, ctl *lifecycle.Controller) *Service {
	return &Service{store: store, ctl: ctl, now: time.Now}
}

// snapshot reads the vendor and its primary payout account.
func snapshot(ctx context.Context, dir VendorDirectory, tenantID, vendorID string) (models.CounterpartySnapshot, error) {
	v, err := dir.GetVendor(ctx, tenantID, vendorID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.CounterpartySnapshot{}, apperr.NotFound("vendor", vendorID)
	}
	if err != nil {
		return models.CounterpartySnapshot{}, apperr.Internal(err)
	}
	return v.Snapshot(), nil
}

func getJob(ctx context.Context, repo storage.Repository, tenantID, jobID string) (*models.Job, error) {
	job, err := repo.GetJob(ctx, tenantID, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("job", jobID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return job, nil
}

// withAlerts attaches the read-time observations to item.
func withAlerts(item *models.CostItem) *models.CostItem {
	item.Alerts = calculator.PaymentAlerts(item)
	for _, a := range item.Alerts {
		slog.Warn("Cost item alert", "cost_item_id", item.ID, "code", a.Code, "message", a.Message)
	}
	return item
}

// Create adds one cost item.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in CreateInput) (*models.CostItem, error) {
	slog.Info("CreateCostItem request received",
		"tenant_id", actor.TenantID,
		"job_id", in.JobID,
		"item_number", in.ItemNumber,
		"sub_item_number", in.SubItemNumber,
	)

	items, err := s.create(ctx, actor, []CreateInput{in})
	if err != nil {
		return nil, err
	}

	slog.Info("Cost item created", "cost_item_id", items[0].ID)
	return items[0], nil
}

// BatchCreate adds up to MaxBatchSize items of one job, or of no job, in a
// single transaction.
func (s *Service) BatchCreate(ctx context.Context, actor auth.Principal, inputs []CreateInput) ([]*models.CostItem, error) {
	slog.Info("BatchCreateCostItems request received", "tenant_id", actor.TenantID, "count", len(inputs))

	if len(inputs) == 0 || len(inputs) > MaxBatchSize {
		return nil, apperr.Validation("items", "a batch must have 1 to %d items", MaxBatchSize)
	}
	for i := range inputs {
		if inputs[i].JobID != inputs[0].JobID {
			return nil, apperr.Validation("job_id", "all items of a batch must belong to the same job").
				WithDetail("index", i)
		}
	}

	items, err := s.create(ctx, actor, inputs)
	if err != nil {
		return nil, err
	}

	slog.Info("Cost items created", "count", len(items))
	return items, nil
}

func (s *Service) create(ctx context.Context, actor auth.Principal, inputs []CreateInput) ([]*models.CostItem, error) {
	items := make([]*models.CostItem, len(inputs))
	for i, in := range inputs {
		item := in.toItem()
		if err := validateItem(item); err != nil {
			if len(inputs) > 1 {
				return nil, apperr.From(err).WithDetail("index", i)
			}
			return nil, err
		}
		items[i] = item
	}

	err := s.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		jobs := make(map[string]bool)
		vendors := make(map[string]models.CounterpartySnapshot)

		for i, item := range items {
			if item.JobID != "" && !jobs[item.JobID] {
				if _, err := getJob(ctx, tx.Repo(), actor.TenantID, item.JobID); err != nil {
					return err
				}
				jobs[item.JobID] = true
			}

			if vendorID := inputs[i].VendorID; vendorID != "" {
				snap, ok := vendors[vendorID]
				if !ok {
					var err error
					if snap, err = snapshot(ctx, tx.Repo(), actor.TenantID, vendorID); err != nil {
						return err
					}
					vendors[vendorID] = snap
				}
				item.Counterparty = snap
				if err := validateItem(item); err != nil {
					return err
				}
			}

			if err := tx.Create(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("CreateCostItem failed", "error", err, "tenant_id", actor.TenantID, "actor_id", actor.UserID)
		}
		return nil, err
	}

	for _, item := range items {
		withAlerts(item)
	}
	return items, nil
}

// Get returns one live item of the actor's tenant.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*models.CostItem, error) {
	item, err := s.store.GetCostItem(ctx, actor.TenantID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("cost item", id)
	}
	if err != nil {
		slog.Error("GetCostItem failed", "error", err, "tenant_id", actor.TenantID, "cost_item_id", id)
		return nil, apperr.Internal(err)
	}
	return withAlerts(item), nil
}

// List returns one page of items and the total number of matches.
func (s *Service) List(ctx context.Context, actor auth.Principal, filter storage.CostItemFilter) ([]models.CostItem, int, error) {
	if filter.ItemStatus != "" && !filter.ItemStatus.Valid() {
		return nil, 0, apperr.Validation("item_status", "unknown item_status %q", filter.ItemStatus)
	}
	if filter.InvoiceRequestStatus != "" && !filter.InvoiceRequestStatus.Valid() {
		return nil, 0, apperr.Validation("invoice_request_status", "unknown invoice_request_status %q", filter.InvoiceRequestStatus)
	}
	if err := checkSort(filter.Sort, storage.CostItemSortColumns); err != nil {
		return nil, 0, err
	}

	items, total, err := s.store.ListCostItems(ctx, actor.TenantID, filter)
	if err != nil {
		slog.Error("ListCostItems failed", "error", err, "tenant_id", actor.TenantID)
		return nil, 0, apperr.Internal(err)
	}
	for i := range items {
		withAlerts(&items[i])
	}
	return items, total, nil
}

func checkSort(sort string, allowed []string) error {
	if sort == "" {
		return nil
	}
	for _, a := range allowed {
		if a == sort {
			return nil
		}
	}
	return apperr.Validation("sort", "cannot sort by %q", sort).WithDetail("allowed", allowed)
}

// Update merges p into the item. A status change in p goes through the
// lifecycle transition table; a rejected transition aborts the whole patch.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, p Patch) (*models.CostItem, error) {
	slog.Info("UpdateCostItem request received", "tenant_id", actor.TenantID, "cost_item_id", id)

	ch := lifecycle.Change{ExpectedVersion: p.Version.Value}
	if p.ItemStatus.Set {
		st := p.ItemStatus.Value
		ch.ItemStatus = &st
	}
	if p.InvoiceRequestStatus.Set {
		st := p.InvoiceRequestStatus.Value
		ch.InvoiceRequestStatus = &st
	}
	if p.PaymentStatus.Set {
		st := p.PaymentStatus.Value
		ch.PaymentStatus = &st
	}

	var updated *models.CostItem
	err := s.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		ch.Mutate = func(next *models.CostItem) error {
			wasHeader := next.IsCategoryHeader
			p.apply(next)
			if (next.SubItemNumber == 0) != wasHeader {
				return apperr.Validation("sub_item_number", "sub_item_number cannot turn a line into a category header or back")
			}

			if p.VendorID.Set && p.VendorID.Value != next.Counterparty.VendorID {
				if p.VendorID.Value == "" {
					next.Counterparty = models.CounterpartySnapshot{}
				} else {
					snap, err := snapshot(ctx, tx.Repo(), actor.TenantID, p.VendorID.Value)
					if err != nil {
						return err
					}
					next.Counterparty = snap
				}
			}
			return validateItem(next)
		}

		item, err := tx.Apply(ctx, id, ch)
		updated = item
		return err
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("UpdateCostItem failed", "error", err, "tenant_id", actor.TenantID, "cost_item_id", id)
		}
		return nil, err
	}

	slog.Info("Cost item updated", "cost_item_id", id, "version", updated.Version)
	return withAlerts(updated), nil
}

// Delete tombstones an item. Items that are paid or linked to an invoice
// document can only be deleted once cancelled.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	slog.Info("DeleteCostItem request received", "tenant_id", actor.TenantID, "cost_item_id", id)

	deletedAt := s.now().Unix()
	err := s.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.ItemStatus != models.ItemCancelled {
			paid := current.ItemStatus == models.ItemPaid || current.PaymentStatus == models.PaymentPaid
			if paid || current.HasInvoice() {
				return apperr.BusinessRule("cost item %s is paid or has a linked invoice; cancel it before deleting", id).
					WithDetail("item_status", string(current.ItemStatus)).
					WithDetail("payment_status", string(current.PaymentStatus)).
					WithDetail("invoice_document_id", current.InvoiceDocumentID)
			}
		}

		_, err = tx.Apply(ctx, id, lifecycle.Change{
			Event: models.EventCostItemDeleted,
			Mutate: func(next *models.CostItem) error {
				next.DeletedAt = deletedAt
				return nil
			},
		})
		return err
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("DeleteCostItem failed", "error", err, "tenant_id", actor.TenantID, "cost_item_id", id)
		}
		return err
	}

	slog.Info("Cost item deleted", "cost_item_id", id)
	return nil
}

// ApplyTemplate creates one header line per category of the job's
// production type that the job does not have yet. A type-specific category
// wins over the generic one with the same number. Returns the created lines.
func (s *Service) ApplyTemplate(ctx context.Context, actor auth.Principal, jobID string) ([]*models.CostItem, error) {
	slog.Info("ApplyTemplate request received", "tenant_id", actor.TenantID, "job_id", jobID)

	var created []*models.CostItem
	err := s.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		created = nil
		job, err := getJob(ctx, tx.Repo(), actor.TenantID, jobID)
		if err != nil {
			return err
		}

		types := []string{models.ProductionTypeAll}
		if job.ProductionType != "" && job.ProductionType != models.ProductionTypeAll {
			types = append(types, job.ProductionType)
		}
		categories, err := tx.Repo().ListCategories(ctx, actor.TenantID, types)
		if err != nil {
			return apperr.Internal(err)
		}
		if len(categories) == 0 {
			return apperr.BusinessRule("no category template defined for production type %q", job.ProductionType).
				WithDetail("production_type", job.ProductionType)
		}

		chosen := make(map[int]models.Category)
		for _, c := range categories {
			prev, ok := chosen[c.ItemNumber]
			if !ok || (prev.ProductionType == models.ProductionTypeAll && c.ProductionType != models.ProductionTypeAll) {
				chosen[c.ItemNumber] = c
			}
		}

		headers, _, err := tx.Repo().ListCostItems(ctx, actor.TenantID, storage.CostItemFilter{JobID: jobID, HeadersOnly: true})
		if err != nil {
			return apperr.Internal(err)
		}
		for _, h := range headers {
			delete(chosen, h.ItemNumber)
		}

		numbers := make([]int, 0, len(chosen))
		for n := range chosen {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)

		for _, n := range numbers {
			item := CreateInput{
				JobID:       jobID,
				ItemNumber:  n,
				Description: chosen[n].Name,
			}.toItem()
			if err := tx.Create(ctx, item); err != nil {
				return err
			}
			created = append(created, item)
		}
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("ApplyTemplate failed", "error", err, "tenant_id", actor.TenantID, "job_id", jobID)
		}
		return nil, err
	}

	slog.Info("Template applied", "job_id", jobID, "created", len(created))
	return created, nil
}

// Copy duplicates an item into another job with its progress reset.
func (s *Service) Copy(ctx context.Context, actor auth.Principal, id, targetJobID string) (*models.CostItem, error) {
	slog.Info("CopyCostItem request received", "tenant_id", actor.TenantID, "cost_item_id", id, "target_job_id", targetJobID)

	if targetJobID == "" {
		return nil, apperr.Validation("target_job_id", "target_job_id is required")
	}

	var copied *models.CostItem
	err := s.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		src, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := getJob(ctx, tx.Repo(), actor.TenantID, targetJobID); err != nil {
			return err
		}

		copied = copyOf(src, targetJobID)
		return tx.Create(ctx, copied)
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("CopyCostItem failed", "error", err, "tenant_id", actor.TenantID, "cost_item_id", id)
		}
		return nil, err
	}

	slog.Info("Cost item copied", "cost_item_id", id, "copy_id", copied.ID)
	return copied, nil
}

// copyOf keeps the budget fields of src and resets every invoice and
// payment field.
func copyOf(src *models.CostItem, jobID string) *models.CostItem {
	item := &models.CostItem{
		JobID:            jobID,
		PeriodMonth:      src.PeriodMonth,
		ItemNumber:       src.ItemNumber,
		SubItemNumber:    src.SubItemNumber,
		IsCategoryHeader: src.IsCategoryHeader,
		Description:      src.Description,
		UnitValue:        src.UnitValue,
		Quantity:         src.Quantity,
		OvertimeHours:    src.OvertimeHours,
		OvertimeRate:     src.OvertimeRate,
		PaymentCondition: src.PaymentCondition,
		DueDate:          src.DueDate,
		PaymentMethod:    src.PaymentMethod,
		Counterparty:     src.Counterparty,
		Notes:            src.Notes,

		ItemStatus:           models.ItemBudgeted,
		InvoiceRequestStatus: models.InvoicePending,
		PaymentStatus:        models.PaymentPending,
	}
	if item.IsCategoryHeader {
		item.InvoiceRequestStatus = models.InvoiceNotApplicable
	}
	return item
}

// BudgetSummary aggregates the job's live lines.
func (s *Service) BudgetSummary(ctx context.Context, actor auth.Principal, jobID string) (*calculator.BudgetSummary, error) {
	job, items, err := s.jobItems(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	summary := calculator.SummarizeBudget(job.ID, job.ContractedValue, items)
	return &summary, nil
}

// jobItems loads a job and every live line of it in display order.
func (s *Service) jobItems(ctx context.Context, actor auth.Principal, jobID string) (*models.Job, []models.CostItem, error) {
	job, err := getJob(ctx, s.store, actor.TenantID, jobID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("GetJob failed", "error", err, "tenant_id", actor.TenantID, "job_id", jobID)
		}
		return nil, nil, err
	}
	items, _, err := s.store.ListCostItems(ctx, actor.TenantID, storage.CostItemFilter{JobID: jobID})
	if err != nil {
		slog.Error("ListCostItems failed", "error", err, "tenant_id", actor.TenantID, "job_id", jobID)
		return nil, nil, apperr.Internal(fmt.Errorf("failed to load job %s items: %w", jobID, err))
	}
	return job, items, nil
}
