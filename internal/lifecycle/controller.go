package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/calculator"
	"github.com/mmynk/payables/internal/metrics"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

// Change describes one mutation of a cost item. Nil status pointers leave
// that status as is.
type Change struct {
	ItemStatus           *models.ItemStatus
	InvoiceRequestStatus *models.InvoiceRequestStatus
	PaymentStatus        *models.PaymentStatus

	// Mutate edits non-status fields. It runs after the transition check and
	// may return an error to abort the whole change.
	Mutate func(*models.CostItem) error

	// ExpectedVersion, when non-zero, must equal the stored version.
	ExpectedVersion int64

	// ReversePayment lets a paid item return to a pre-payment status
	// instead of checking the transition table.
	ReversePayment bool

	Event       string
	Description string
}

// Controller applies cost item mutations.
type Controller struct {
	store storage.Store
	now   func() time.Time
}

// NewController creates a Controller writing through store.
func NewController(store storage.Store) *Controller {
	return &Controller{store: store, now: time.Now}
}

// Tx is one transactional unit of work. Audit entries collected during the
// unit are written after it commits.
type Tx struct {
	repo    storage.Repository
	actor   auth.Principal
	now     int64
	pending []models.AuditEntry
	applied int
}

// Repo exposes the transactional repository for writes that are not cost
// item mutations, such as invoice document updates.
func (tx *Tx) Repo() storage.Repository {
	return tx.repo
}

// Within runs fn in one transaction and then records the audit trail.
func (c *Controller) Within(ctx context.Context, actor auth.Principal, fn func(*Tx) error) error {
	tx := &Tx{actor: actor, now: c.now().Unix()}
	err := c.store.InTx(ctx, func(r storage.Repository) error {
		tx.repo = r
		tx.pending = nil
		tx.applied = 0
		return fn(tx)
	})
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeConflict:
			metrics.Transitions.WithLabelValues("conflict").Inc()
		case apperr.CodeBusinessRule, apperr.CodeValidation:
			metrics.Transitions.WithLabelValues("rejected").Inc()
		}
		return err
	}

	metrics.Transitions.WithLabelValues("applied").Add(float64(tx.applied))
	c.recordAudit(ctx, tx.pending)
	return nil
}

// Apply mutates one item in its own transaction.
func (c *Controller) Apply(ctx context.Context, actor auth.Principal, itemID string, ch Change) (*models.CostItem, error) {
	var result *models.CostItem
	err := c.Within(ctx, actor, func(tx *Tx) error {
		item, err := tx.Apply(ctx, itemID, ch)
		result = item
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts items in one transaction.
func (c *Controller) Create(ctx context.Context, actor auth.Principal, items ...*models.CostItem) error {
	return c.Within(ctx, actor, func(tx *Tx) error {
		for _, item := range items {
			if err := tx.Create(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get loads a live item of the actor's tenant.
func (tx *Tx) Get(ctx context.Context, itemID string) (*models.CostItem, error) {
	item, err := tx.repo.GetCostItem(ctx, tx.actor.TenantID, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("cost item", itemID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return item, nil
}

// Create inserts a new item with recomputed totals.
func (tx *Tx) Create(ctx context.Context, item *models.CostItem) error {
	item.TenantID = tx.actor.TenantID
	item.CreatedBy = tx.actor.UserID
	item.CreatedAt = tx.now
	item.UpdatedAt = tx.now
	item.Version = 1
	calculator.ApplyTotals(item)

	if err := tx.repo.CreateCostItem(ctx, item); err != nil {
		return apperr.Internal(err)
	}

	tx.applied++
	tx.queueAudit(nil, item, models.EventCostItemCreated,
		fmt.Sprintf("Created %d.%d %s", item.ItemNumber, item.SubItemNumber, item.Description))
	return nil
}

// Apply validates and writes one change. An invalid transition or a failing
// Mutate leaves the item untouched.
func (tx *Tx) Apply(ctx context.Context, itemID string, ch Change) (*models.CostItem, error) {
	current, err := tx.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if ch.ExpectedVersion != 0 && ch.ExpectedVersion != current.Version {
		return nil, apperr.Conflict("cost item", itemID)
	}

	next := *current
	if ch.ItemStatus != nil && *ch.ItemStatus != current.ItemStatus {
		validate := ValidateTransition
		if ch.ReversePayment {
			validate = ValidateReversal
		}
		if err := validate(current.ItemStatus, *ch.ItemStatus); err != nil {
			return nil, err
		}
		next.ItemStatus = *ch.ItemStatus
	}
	if ch.InvoiceRequestStatus != nil {
		if !ch.InvoiceRequestStatus.Valid() {
			return nil, apperr.Validation("invoice_request_status", "unknown invoice_request_status %q", *ch.InvoiceRequestStatus)
		}
		next.InvoiceRequestStatus = *ch.InvoiceRequestStatus
	}
	if ch.PaymentStatus != nil {
		if !ch.PaymentStatus.Valid() {
			return nil, apperr.Validation("payment_status", "unknown payment_status %q", *ch.PaymentStatus)
		}
		next.PaymentStatus = *ch.PaymentStatus
	}

	if ch.Mutate != nil {
		if err := ch.Mutate(&next); err != nil {
			return nil, err
		}
	}

	// Identity and audit fields are owned by the store.
	next.ID = current.ID
	next.TenantID = current.TenantID
	next.JobID = current.JobID
	next.IsCategoryHeader = current.IsCategoryHeader
	next.CreatedAt = current.CreatedAt
	next.CreatedBy = current.CreatedBy
	next.Alerts = nil

	calculator.ApplyTotals(&next)
	next.Version = current.Version + 1
	next.UpdatedAt = tx.now

	err = tx.repo.UpdateCostItem(ctx, &next, current.Version)
	if errors.Is(err, storage.ErrConflict) {
		return nil, apperr.Conflict("cost item", itemID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("cost item", itemID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	warnSoftInconsistency(&next)

	event := ch.Event
	if event == "" {
		event = models.EventCostItemUpdated
	}
	desc := ch.Description
	if desc == "" {
		desc = describe(current, &next)
	}
	tx.applied++
	tx.queueAudit(current, &next, event, desc)
	return &next, nil
}

// Record queues an audit entry about item without changing it.
func (tx *Tx) Record(item *models.CostItem, event, description string) {
	tx.queueAudit(item, item, event, description)
}

func describe(before, after *models.CostItem) string {
	switch {
	case after.DeletedAt != 0 && before.DeletedAt == 0:
		return fmt.Sprintf("Deleted %d.%d %s", after.ItemNumber, after.SubItemNumber, after.Description)
	case before.ItemStatus != after.ItemStatus:
		return fmt.Sprintf("Status %s -> %s", before.ItemStatus, after.ItemStatus)
	default:
		return fmt.Sprintf("Updated %d.%d %s", after.ItemNumber, after.SubItemNumber, after.Description)
	}
}

// warnSoftInconsistency logs status combinations that are allowed but do
// not follow the usual convention.
func warnSoftInconsistency(item *models.CostItem) {
	if item.PaymentStatus == models.PaymentPaid && item.ItemStatus != models.ItemPaid {
		slog.Warn("Payment marked paid while item is not",
			"cost_item_id", item.ID, "item_status", item.ItemStatus, "payment_status", item.PaymentStatus)
	}
	if item.ItemStatus == models.ItemPaid && item.PaymentStatus != models.PaymentPaid {
		slog.Warn("Item marked paid while payment is not",
			"cost_item_id", item.ID, "item_status", item.ItemStatus, "payment_status", item.PaymentStatus)
	}
}

func (tx *Tx) queueAudit(before, after *models.CostItem, event, description string) {
	if after.JobID == "" {
		return
	}

	entry := models.AuditEntry{
		TenantID:    after.TenantID,
		JobID:       after.JobID,
		CostItemID:  after.ID,
		Event:       event,
		ActorID:     tx.actor.UserID,
		Description: description,
		CreatedAt:   tx.now,
	}
	if before != nil {
		entry.Before, _ = json.Marshal(before)
	}
	entry.After, _ = json.Marshal(after)
	tx.pending = append(tx.pending, entry)
}

// recordAudit writes entries after the primary mutation committed. Failures
// are logged and never undo the mutation.
func (c *Controller) recordAudit(ctx context.Context, entries []models.AuditEntry) {
	for i := range entries {
		e := &entries[i]
		if err := c.store.AppendAudit(ctx, e); err != nil {
			metrics.AuditFailures.Inc()
			slog.Error("Audit write failed",
				"error", err,
				"tenant_id", e.TenantID,
				"cost_item_id", e.CostItemID,
				"event", e.Event,
				"actor_id", e.ActorID,
			)
		}
	}
}
