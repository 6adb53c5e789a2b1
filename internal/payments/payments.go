// Package payments records and undoes cost item payments and previews a
// payment batch before it is settled.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/metrics"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

const (
	// MaxItems bounds one payment batch or preview.
	MaxItems = 100
	// UndoWindow is how long after the payment date a caller without
	// auth.UndoAnyPayment may still undo it.
	UndoWindow = 48 * time.Hour
)

// Service records payments through the lifecycle controller.
type Service struct {
	store storage.Store
	ctl   *lifecycle.Controller
	now   func() time.Time
}

// NewService creates a payment service writing through ctl.
func NewService(store storage.Store, ctl *lifecycle.Controller) *Service {
	return &Service{store: store, ctl: ctl, now: time.Now}
}

// PayInput settles a batch of cost items on one date.
type PayInput struct {
	CostItemIDs   []string             `json:"cost_item_ids"`
	PaymentDate   string               `json:"payment_date"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	// ActualPaidValue is only accepted for a single item.
	ActualPaidValue decimal.NullDecimal `json:"actual_paid_value"`
}

// PayResult summarizes a recorded batch.
type PayResult struct {
	ItemsPaid   int                `json:"items_paid"`
	TotalPaid   decimal.Decimal    `json:"total_paid"`
	PaymentDate string             `json:"payment_date"`
	Items       []*models.CostItem `json:"items"`
}

// normalizeIDs trims and dedupes ids, keeping their order.
func normalizeIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("cost_item_ids", "at least one cost item id is required")
	}
	seen := make(map[string]bool, len(ids))
	var out, invalid []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if uuid.Validate(id) != nil {
			invalid = append(invalid, id)
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("cost_item_ids", "cost item ids must be UUIDs").WithDetail("invalid_ids", invalid)
	}
	if len(out) > MaxItems {
		return nil, apperr.Validation("cost_item_ids", "at most %d cost items per batch", MaxItems)
	}
	return out, nil
}

func (in PayInput) validate() error {
	if _, err := time.Parse(time.DateOnly, in.PaymentDate); err != nil {
		return apperr.Validation("payment_date", "payment_date must be YYYY-MM-DD")
	}
	if in.PaymentMethod == "" {
		return apperr.Validation("payment_method", "payment_method is required")
	}
	if !in.PaymentMethod.Valid() {
		return apperr.Validation("payment_method", "unknown payment_method %q", in.PaymentMethod).
			WithDetail("allowed", models.PaymentMethods)
	}
	if in.ActualPaidValue.Valid {
		if in.ActualPaidValue.Decimal.IsNegative() {
			return apperr.Validation("actual_paid_value", "actual_paid_value must not be negative")
		}
		if len(in.CostItemIDs) > 1 {
			return apperr.Validation("actual_paid_value", "actual_paid_value applies to a single cost item")
		}
	}
	return nil
}

func isPaid(item *models.CostItem) bool {
	return item.PaymentStatus == models.PaymentPaid || item.ItemStatus == models.ItemPaid
}

// Pay marks every item paid in one transaction. Nothing is written when an
// item is missing, already paid or cannot move to paid.
func (s *Service) Pay(ctx context.Context, actor auth.Principal, in PayInput) (*PayResult, error) {
	slog.Info("RecordPayment request received",
		"tenant_id", actor.TenantID,
		"actor_id", actor.UserID,
		"count", len(in.CostItemIDs),
		"payment_date", in.PaymentDate,
	)

	ids, err := normalizeIDs(in.CostItemIDs)
	if err != nil {
		return nil, err
	}
	in.CostItemIDs = ids
	if err := in.validate(); err != nil {
		return nil, err
	}

	var res *PayResult
	err = s.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		res = &PayResult{PaymentDate: in.PaymentDate}

		var missing, alreadyPaid []string
		items := make([]*models.CostItem, 0, len(ids))
		for _, id := range ids {
			item, err := tx.Get(ctx, id)
			if apperr.CodeOf(err) == apperr.CodeNotFound {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return err
			}
			if isPaid(item) {
				alreadyPaid = append(alreadyPaid, id)
			}
			items = append(items, item)
		}
		if len(missing) > 0 {
			return apperr.NotFound("cost item", strings.Join(missing, ", ")).WithDetail("missing_ids", missing)
		}
		if len(alreadyPaid) > 0 {
			return &apperr.Error{
				Code:    apperr.CodeConflict,
				Message: fmt.Sprintf("%d cost item(s) already have a recorded payment", len(alreadyPaid)),
				Details: map[string]any{"already_paid_ids": alreadyPaid},
			}
		}

		paid := models.ItemPaid
		settled := models.PaymentPaid
		for _, item := range items {
			if item.IsCategoryHeader {
				return apperr.BusinessRule("cost item %s is a category header and cannot be paid", item.ID)
			}
			updated, err := tx.Apply(ctx, item.ID, lifecycle.Change{
				ItemStatus:      &paid,
				PaymentStatus:   &settled,
				ExpectedVersion: item.Version,
				Event:           models.EventPaymentRecorded,
				Description:     fmt.Sprintf("Payment of %s recorded on %s via %s", item.Description, in.PaymentDate, in.PaymentMethod),
				Mutate: func(next *models.CostItem) error {
					next.PaymentDate = in.PaymentDate
					next.PaymentMethod = in.PaymentMethod
					if in.ActualPaidValue.Valid {
						next.ActualPaidValue = in.ActualPaidValue
					}
					return nil
				},
			})
			if err != nil {
				return err
			}
			res.Items = append(res.Items, updated)
			res.TotalPaid = res.TotalPaid.Add(paidAmount(updated))
		}
		res.ItemsPaid = len(res.Items)
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("RecordPayment failed", "error", err, "tenant_id", actor.TenantID, "ids", ids)
		}
		return nil, err
	}

	metrics.Payments.WithLabelValues("recorded").Add(float64(res.ItemsPaid))
	slog.Info("Payments recorded", "items_paid", res.ItemsPaid, "total_paid", res.TotalPaid.StringFixed(2))
	return res, nil
}

// paidAmount is the actual paid value when known, else the item total.
func paidAmount(item *models.CostItem) decimal.Decimal {
	if item.ActualPaidValue.Valid {
		return item.ActualPaidValue.Decimal
	}
	return item.TotalWithOvertime
}

// reverted picks the status an item returns to once its payment is undone:
// the furthest invoice progress it had reached.
func reverted(item *models.CostItem) models.ItemStatus {
	switch {
	case item.InvoiceValidationOK:
		return models.ItemInvoiceApproved
	case item.HasInvoice():
		return models.ItemInvoiceReceived
	case item.InvoiceRequestedAt != 0:
		return models.ItemInvoiceRequested
	default:
		return models.ItemBudgeted
	}
}

// UndoPay returns a paid item to pending payment. Callers without
// auth.UndoAnyPayment may only undo within UndoWindow of the payment date.
func (s *Service) UndoPay(ctx context.Context, actor auth.Principal, id string) (*models.CostItem, error) {
	slog.Info("UndoPayment request received", "tenant_id", actor.TenantID, "actor_id", actor.UserID, "cost_item_id", id)

	var updated *models.CostItem
	err := s.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		item, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !isPaid(item) {
			return apperr.BusinessRule("cost item %s has no recorded payment", id).
				WithDetail("payment_status", string(item.PaymentStatus))
		}
		if !actor.Can(auth.UndoAnyPayment) && item.PaymentDate != "" {
			paidOn, err := time.Parse(time.DateOnly, item.PaymentDate)
			if err == nil && s.now().Sub(paidOn) > UndoWindow {
				return apperr.BusinessRule("the %.0f hour window to undo this payment has passed", UndoWindow.Hours()).
					WithDetail("payment_date", item.PaymentDate)
			}
		}

		pending := models.PaymentPending
		ch := lifecycle.Change{
			PaymentStatus:   &pending,
			ExpectedVersion: item.Version,
			ReversePayment:  true,
			Event:           models.EventPaymentUndone,
			Description:     fmt.Sprintf("Payment of %s on %s undone", item.Description, item.PaymentDate),
			Mutate: func(next *models.CostItem) error {
				next.PaymentDate = ""
				next.ActualPaidValue = decimal.NullDecimal{}
				return nil
			},
		}
		if item.ItemStatus == models.ItemPaid {
			st := reverted(item)
			ch.ItemStatus = &st
		}
		updated, err = tx.Apply(ctx, id, ch)
		return err
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("UndoPayment failed", "error", err, "tenant_id", actor.TenantID, "cost_item_id", id)
		}
		return nil, err
	}

	metrics.Payments.WithLabelValues("undone").Inc()
	slog.Info("Payment undone", "cost_item_id", id, "item_status", updated.ItemStatus)
	return updated, nil
}

// VendorTotal is one counterparty's share of a preview.
type VendorTotal struct {
	VendorID   string          `json:"vendor_id,omitempty"`
	VendorName string          `json:"vendor_name"`
	ItemsCount int             `json:"items_count"`
	Total      decimal.Decimal `json:"total"`
}

// Preview is a read-only summary of a payment selection.
type Preview struct {
	Items          []models.CostItem `json:"items"`
	ItemsCount     int               `json:"items_count"`
	Total          decimal.Decimal   `json:"total"`
	VendorSummary  []VendorTotal     `json:"vendor_summary"`
	NotFoundIDs    []string          `json:"not_found_ids"`
	AlreadyPaidIDs []string          `json:"already_paid_ids"`
}

// BatchPreview totals the selected items per vendor. Unknown ids are listed
// rather than failing the call.
func (s *Service) BatchPreview(ctx context.Context, actor auth.Principal, ids []string) (*Preview, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Items:          []models.CostItem{},
		VendorSummary:  []VendorTotal{},
		NotFoundIDs:    []string{},
		AlreadyPaidIDs: []string{},
	}
	byVendor := make(map[string]int)
	for _, id := range ids {
		item, err := s.store.GetCostItem(ctx, actor.TenantID, id)
		if errors.Is(err, storage.ErrNotFound) {
			p.NotFoundIDs = append(p.NotFoundIDs, id)
			continue
		}
		if err != nil {
			slog.Error("GetCostItem failed", "error", err, "tenant_id", actor.TenantID, "cost_item_id", id)
			return nil, apperr.Internal(err)
		}
		if isPaid(item) {
			p.AlreadyPaidIDs = append(p.AlreadyPaidIDs, id)
		}

		p.Items = append(p.Items, *item)
		p.Total = p.Total.Add(item.TotalWithOvertime)

		// Items without a vendor are listed on their own.
		key := item.Counterparty.VendorID
		if key == "" {
			key = "item:" + item.ID
		}
		i, ok := byVendor[key]
		if !ok {
			i = len(p.VendorSummary)
			byVendor[key] = i
			p.VendorSummary = append(p.VendorSummary, VendorTotal{
				VendorID:   item.Counterparty.VendorID,
				VendorName: item.Counterparty.Name,
			})
		}
		p.VendorSummary[i].ItemsCount++
		p.VendorSummary[i].Total = p.VendorSummary[i].Total.Add(item.TotalWithOvertime)
	}
	p.ItemsCount = len(p.Items)
	return p, nil
}
