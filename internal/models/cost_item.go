package models

import (
	"github.com/shopspring/decimal"
)

// ItemStatus is the authoritative lifecycle state of a cost item.
type ItemStatus string

const (
	ItemBudgeted         ItemStatus = "budgeted"
	ItemAwaitingInvoice  ItemStatus = "awaiting_invoice"
	ItemInvoiceRequested ItemStatus = "invoice_requested"
	ItemInvoiceReceived  ItemStatus = "invoice_received"
	ItemInvoiceApproved  ItemStatus = "invoice_approved"
	ItemPaid             ItemStatus = "paid"
	ItemCancelled        ItemStatus = "cancelled"
)

// ItemStatuses lists every item status in lifecycle order.
var ItemStatuses = []ItemStatus{
	ItemBudgeted, ItemAwaitingInvoice, ItemInvoiceRequested, ItemInvoiceReceived,
	ItemInvoiceApproved, ItemPaid, ItemCancelled,
}

func (s ItemStatus) Valid() bool {
	for _, v := range ItemStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// InvoiceRequestStatus tracks the invoice collected for a cost item.
type InvoiceRequestStatus string

const (
	InvoiceNotApplicable InvoiceRequestStatus = "not_applicable"
	InvoicePending       InvoiceRequestStatus = "pending"
	InvoiceRequested     InvoiceRequestStatus = "requested"
	InvoiceReceived      InvoiceRequestStatus = "received"
	InvoiceRejected      InvoiceRequestStatus = "rejected"
	InvoiceApproved      InvoiceRequestStatus = "approved"
)

var InvoiceRequestStatuses = []InvoiceRequestStatus{
	InvoiceNotApplicable, InvoicePending, InvoiceRequested, InvoiceReceived, InvoiceRejected, InvoiceApproved,
}

func (s InvoiceRequestStatus) Valid() bool {
	for _, v := range InvoiceRequestStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// PaymentStatus tracks settlement of a cost item.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
)

var PaymentStatuses = []PaymentStatus{PaymentPending, PaymentPaid, PaymentCancelled}

func (s PaymentStatus) Valid() bool {
	for _, v := range PaymentStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// PaymentCondition is the agreed payment term.
type PaymentCondition string

const (
	ConditionCash        PaymentCondition = "cash"
	ConditionNet30       PaymentCondition = "net_30"
	ConditionNet40       PaymentCondition = "net_40"
	ConditionNet45       PaymentCondition = "net_45"
	ConditionNet60       PaymentCondition = "net_60"
	ConditionNet90       PaymentCondition = "net_90"
	ConditionNoInvoice30 PaymentCondition = "no_invoice_30"
)

var PaymentConditions = []PaymentCondition{
	ConditionCash, ConditionNet30, ConditionNet40, ConditionNet45, ConditionNet60, ConditionNet90, ConditionNoInvoice30,
}

func (c PaymentCondition) Valid() bool {
	for _, v := range PaymentConditions {
		if c == v {
			return true
		}
	}
	return false
}

// PaymentMethod is how the counterparty is paid.
type PaymentMethod string

const (
	MethodPix    PaymentMethod = "pix"
	MethodWire   PaymentMethod = "wire"
	MethodCash   PaymentMethod = "cash"
	MethodDebit  PaymentMethod = "debit"
	MethodCredit PaymentMethod = "credit"
	MethodOther  PaymentMethod = "other"
)

var PaymentMethods = []PaymentMethod{MethodPix, MethodWire, MethodCash, MethodDebit, MethodCredit, MethodOther}

func (m PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if m == v {
			return true
		}
	}
	return false
}

// CounterpartySnapshot is the vendor identity copied onto a cost item when the
// vendor is assigned. It is never refreshed from the vendor record afterward.
type CounterpartySnapshot struct {
	VendorID  string `json:"vendor_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	TaxID     string `json:"tax_id,omitempty"`
	PayoutKey string `json:"payout_key,omitempty"`
	BankName  string `json:"bank_name,omitempty"`
}

// IsZero reports whether no counterparty is assigned.
func (s CounterpartySnapshot) IsZero() bool {
	return s == CounterpartySnapshot{}
}

// Alert is a non-blocking observation attached to a returned cost item.
type Alert struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// CostItem is one budget line.
type CostItem struct {
	// ID is the unique identifier (UUID format).
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// JobID is empty for fixed costs, which are tagged by PeriodMonth instead.
	JobID       string `json:"job_id,omitempty"`
	PeriodMonth string `json:"period_month,omitempty"` // YYYY-MM

	// ItemNumber is the category number (1-99); SubItemNumber 0 marks the
	// category header line.
	ItemNumber       int    `json:"item_number"`
	SubItemNumber    int    `json:"sub_item_number"`
	IsCategoryHeader bool   `json:"is_category_header"`
	Description      string `json:"description"`

	UnitValue decimal.Decimal `json:"unit_value"`
	Quantity  int             `json:"quantity"`
	// LineTotal, OvertimeTotal and TotalWithOvertime are derived and
	// recomputed on every write.
	LineTotal         decimal.Decimal `json:"line_total"`
	OvertimeHours     decimal.Decimal `json:"overtime_hours"`
	OvertimeRate      decimal.Decimal `json:"overtime_rate"`
	OvertimeTotal     decimal.Decimal `json:"overtime_total"`
	TotalWithOvertime decimal.Decimal `json:"total_with_overtime"`

	PaymentCondition PaymentCondition `json:"payment_condition,omitempty"`
	DueDate          string           `json:"due_date,omitempty"` // YYYY-MM-DD
	PaymentMethod    PaymentMethod    `json:"payment_method,omitempty"`

	Counterparty CounterpartySnapshot `json:"counterparty"`

	ItemStatus           ItemStatus           `json:"item_status"`
	InvoiceRequestStatus InvoiceRequestStatus `json:"invoice_request_status"`
	PaymentStatus        PaymentStatus        `json:"payment_status"`

	InvoiceRequestedAt int64  `json:"invoice_requested_at,omitempty"`
	InvoiceRequestedBy string `json:"invoice_requested_by,omitempty"`

	// Invoice linkage, written by the matching engine.
	InvoiceDocumentID   string              `json:"invoice_document_id,omitempty"`
	InvoiceValue        decimal.NullDecimal `json:"invoice_value"`
	InvoiceValidationOK bool                `json:"invoice_validation_ok"`

	ActualPaidValue decimal.NullDecimal `json:"actual_paid_value"`
	PaymentDate     string              `json:"payment_date,omitempty"`

	Notes string `json:"notes,omitempty"`

	Version   int64  `json:"version"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	DeletedAt int64  `json:"deleted_at,omitempty"`

	// Alerts is computed on read and never stored.
	Alerts []Alert `json:"alerts,omitempty"`
}

// HasInvoice reports whether an invoice document is linked to the item.
func (c *CostItem) HasInvoice() bool {
	return c.InvoiceDocumentID != ""
}

// Obligation is the view of a cost item used by the matching engine.
type Obligation struct {
	CostItemID   string
	JobID        string
	Amount       decimal.Decimal
	Counterparty CounterpartySnapshot
	// ReferenceDate is the due date, falling back to the first day of the
	// fixed-cost period. Empty when neither is known.
	ReferenceDate string
	HasInvoice    bool
	CreatedAt     int64
}

// Obligation projects the item onto its matching view.
func (c *CostItem) Obligation() Obligation {
	ref := c.DueDate
	if ref == "" && c.PeriodMonth != "" {
		ref = c.PeriodMonth + "-01"
	}
	return Obligation{
		CostItemID:    c.ID,
		JobID:         c.JobID,
		Amount:        c.TotalWithOvertime,
		Counterparty:  c.Counterparty,
		ReferenceDate: ref,
		HasInvoice:    c.HasInvoice(),
		CreatedAt:     c.CreatedAt,
	}
}
