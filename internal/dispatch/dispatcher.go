package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/metrics"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
)

const (
	MaxItems   = 100
	MaxNoteLen = 1000
)

// GroupResult is the outcome of one counterparty group.
type GroupResult struct {
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Recipient   string          `json:"recipient,omitempty"`
	CostItemIDs []string        `json:"cost_item_ids"`
	Total       decimal.Decimal `json:"total"`
	Sent        bool            `json:"sent"`
	Error       string          `json:"error,omitempty"`
}

// Result aggregates a dispatch call. A partial failure is not an error.
type Result struct {
	DispatchID  string        `json:"dispatch_id"`
	SentCount   int           `json:"sent_count"`
	FailedCount int           `json:"failed_count"`
	Groups      []GroupResult `json:"groups"`
}

// Dispatcher turns a selection of cost items into invoice requests.
type Dispatcher struct {
	store       storage.Store
	ctl         *lifecycle.Controller
	sender      Sender
	timeout     time.Duration
	concurrency int
	company     string
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher from validated configuration.
func NewDispatcher(store storage.Store, ctl *lifecycle.Controller, sender Sender, cfg config.DispatchConfig) (*Dispatcher, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		store:       store,
		ctl:         ctl,
		sender:      sender,
		timeout:     timeout,
		concurrency: concurrency,
		company:     cfg.CompanyName,
		now:         time.Now,
	}, nil
}

// eligible returns why item cannot be requested, or "" when it can.
func eligible(item *models.CostItem) string {
	switch {
	case item.IsCategoryHeader:
		return "category header"
	case item.HasInvoice():
		return "invoice already linked"
	case item.InvoiceRequestStatus != models.InvoicePending && item.InvoiceRequestStatus != models.InvoiceRejected:
		return fmt.Sprintf("invoice request status is %s", item.InvoiceRequestStatus)
	case item.ItemStatus != models.ItemInvoiceRequested &&
		!lifecycle.CanTransition(item.ItemStatus, models.ItemInvoiceRequested):
		return fmt.Sprintf("item status %s cannot move to %s", item.ItemStatus, models.ItemInvoiceRequested)
	}
	return ""
}

func normalizeIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("cost_item_ids", "at least one cost item id is required")
	}
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, apperr.Validation("cost_item_ids", "cost item ids must not be empty")
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) > MaxItems {
		return nil, apperr.Validation("cost_item_ids", "at most %d cost items per dispatch", MaxItems)
	}
	return out, nil
}

// load resolves every id and fails the call before any send when an item is
// missing or not eligible.
func (d *Dispatcher) load(ctx context.Context, tenantID string, ids []string) ([]Line, error) {
	var missing []string
	var ineligible []map[string]string
	items := make([]*models.CostItem, 0, len(ids))
	for _, id := range ids {
		item, err := d.store.GetCostItem(ctx, tenantID, id)
		if errors.Is(err, storage.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if reason := eligible(item); reason != "" {
			ineligible = append(ineligible, map[string]string{"id": id, "reason": reason})
			continue
		}
		items = append(items, item)
	}

	if len(missing) > 0 {
		return nil, apperr.NotFound("cost item", strings.Join(missing, ", ")).WithDetail("ids", missing)
	}
	if len(ineligible) > 0 {
		return nil, apperr.BusinessRule("%d cost item(s) cannot receive an invoice request", len(ineligible)).
			WithDetail("ineligible", ineligible)
	}

	jobs := make(map[string]*models.Job)
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		l := Line{Item: *item}
		if item.JobID != "" {
			job, ok := jobs[item.JobID]
			if !ok {
				var err error
				job, err = d.store.GetJob(ctx, tenantID, item.JobID)
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return nil, apperr.Internal(err)
				}
				jobs[item.JobID] = job
			}
			if job != nil {
				l.JobCode, l.JobTitle = job.Code, job.Title
			}
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Dispatch sends one invoice request per counterparty of the selected items.
// Groups succeed or fail independently; the items of a sent group move to
// invoice requested and the items of a failed group are left untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, actor auth.Principal, ids []string, note string) (*Result, error) {
	slog.Info("DispatchInvoiceRequests request received",
		"tenant_id", actor.TenantID,
		"actor_id", actor.UserID,
		"count", len(ids),
	)

	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(note) > MaxNoteLen {
		return nil, apperr.Validation("note", "note must be at most %d characters", MaxNoteLen)
	}

	lines, err := d.load(ctx, actor.TenantID, ids)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("Loading dispatch selection failed", "error", err, "tenant_id", actor.TenantID, "ids", ids)
		}
		return nil, err
	}

	groups := GroupByCounterparty(lines)
	res := &Result{
		DispatchID: uuid.New().String(),
		Groups:     make([]GroupResult, len(groups)),
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range groups {
		g.Go(func() error {
			res.Groups[i] = d.send(ctx, actor, res.DispatchID, &groups[i], note)
			return nil
		})
	}
	g.Wait()

	for _, gr := range res.Groups {
		if gr.Sent {
			res.SentCount++
		} else {
			res.FailedCount++
		}
	}
	slog.Info("Invoice requests dispatched",
		"dispatch_id", res.DispatchID,
		"sent", res.SentCount,
		"failed", res.FailedCount,
	)
	return res, nil
}

// send delivers one group and records its outcome.
func (d *Dispatcher) send(ctx context.Context, actor auth.Principal, dispatchID string, g *Group, note string) GroupResult {
	gr := GroupResult{
		Key:         g.Key,
		Name:        g.Name,
		Recipient:   g.Email,
		CostItemIDs: g.CostItemIDs(),
		Total:       g.Total,
	}

	err := d.deliver(ctx, g, note)
	if err != nil {
		gr.Error = err.Error()
		metrics.DispatchGroups.WithLabelValues("failed").Inc()
		slog.Warn("Invoice request not sent", "error", err, "dispatch_id", dispatchID, "group", g.Key)
	} else {
		gr.Sent = true
		metrics.DispatchGroups.WithLabelValues("sent").Inc()
		if err := d.markRequested(ctx, actor, g); err != nil {
			// The message already left, so the group still counts as sent.
			gr.Error = err.Error()
			slog.Error("Marking items requested failed", "error", err,
				"tenant_id", actor.TenantID, "dispatch_id", dispatchID, "group", g.Key, "cost_item_ids", gr.CostItemIDs)
		}
	}

	outcome := &models.DispatchOutcome{
		TenantID:    actor.TenantID,
		DispatchID:  dispatchID,
		GroupKey:    g.Key,
		Recipient:   g.Email,
		CostItemIDs: gr.CostItemIDs,
		Total:       g.Total,
		Sent:        gr.Sent,
		Error:       gr.Error,
		ActorID:     actor.UserID,
		CreatedAt:   d.now().Unix(),
	}
	if err := d.store.RecordDispatchOutcome(ctx, outcome); err != nil {
		slog.Warn("Recording dispatch outcome failed", "error", err, "dispatch_id", dispatchID, "group", g.Key)
	}
	return gr
}

func (d *Dispatcher) deliver(ctx context.Context, g *Group, note string) error {
	if g.Email == "" {
		return errors.New("counterparty has no email address")
	}
	msg, err := Render(*g, d.company, note)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	// Buffered so a sender that outlives the timeout does not leak blocked.
	done := make(chan error, 1)
	go func() { done <- d.sender.Send(sendCtx, msg) }()

	select {
	case err = <-done:
		if err == nil && sendCtx.Err() != nil {
			err = sendCtx.Err()
		}
		return err
	case <-sendCtx.Done():
		slog.Warn("Send abandoned", "error", sendCtx.Err(), "group", g.Key, "to", g.Email)
		return sendCtx.Err()
	}
}

// markRequested advances every item of a sent group in one transaction.
func (d *Dispatcher) markRequested(ctx context.Context, actor auth.Principal, g *Group) error {
	requestedAt := d.now().Unix()
	return d.ctl.Within(ctx, actor, func(tx *lifecycle.Tx) error {
		for _, l := range g.Lines {
			requested := models.InvoiceRequested
			ch := lifecycle.Change{
				InvoiceRequestStatus: &requested,
				ExpectedVersion:      l.Item.Version,
				Event:                models.EventInvoiceRequestDispatched,
				Description:          fmt.Sprintf("Invoice requested from %s", g.Email),
				Mutate: func(next *models.CostItem) error {
					next.InvoiceRequestedAt = requestedAt
					next.InvoiceRequestedBy = actor.UserID
					return nil
				},
			}
			if l.Item.ItemStatus != models.ItemInvoiceRequested {
				st := models.ItemInvoiceRequested
				ch.ItemStatus = &st
			}
			if _, err := tx.Apply(ctx, l.Item.ID, ch); err != nil {
				return err
			}
		}
		return nil
	})
}
