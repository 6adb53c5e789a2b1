package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Audit event types.
const (
	EventCostItemCreated          = "cost_item_created"
	EventCostItemUpdated          = "cost_item_updated"
	EventCostItemDeleted          = "cost_item_deleted"
	EventInvoiceAutoMatched       = "invoice_auto_matched"
	EventInvoiceConfirmed         = "invoice_confirmed"
	EventInvoiceReassigned        = "invoice_reassigned"
	EventInvoiceRejected          = "invoice_rejected"
	EventInvoiceRequestDispatched = "invoice_request_dispatched"
	EventPaymentRecorded          = "payment_recorded"
	EventPaymentUndone            = "payment_undone"
)

// AuditEntry is one committed mutation of a job-scoped cost item.
type AuditEntry struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	JobID       string          `json:"job_id"`
	CostItemID  string          `json:"cost_item_id"`
	Event       string          `json:"event"`
	ActorID     string          `json:"actor_id"`
	Description string          `json:"description"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	CreatedAt   int64           `json:"created_at"`
}

// DispatchOutcome records how one counterparty group of a dispatch call went.
type DispatchOutcome struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	DispatchID  string          `json:"dispatch_id"`
	GroupKey    string          `json:"group_key"`
	Recipient   string          `json:"recipient,omitempty"`
	CostItemIDs []string        `json:"cost_item_ids"`
	Total       decimal.Decimal `json:"total"`
	Sent        bool            `json:"sent"`
	Error       string          `json:"error,omitempty"`
	ActorID     string          `json:"actor_id"`
	CreatedAt   int64           `json:"created_at"`
}
