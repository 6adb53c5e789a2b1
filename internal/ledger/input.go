package ledger

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/models"
)

// Limits on cost item fields.
const (
	MinItemNumber     = 1
	MaxItemNumber     = 99
	MaxSubItemNumber  = 99
	MaxDescriptionLen = 500
	MaxBatchSize      = 200
)

// Optional is a patch field. Set is true when the key was present, and Null
// when its value was an explicit null.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns a set, non-null Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// CreateInput is the caller-supplied part of a new cost item.
type CreateInput struct {
	JobID            string                  `json:"job_id"`
	PeriodMonth      string                  `json:"period_month"`
	ItemNumber       int                     `json:"item_number"`
	SubItemNumber    int                     `json:"sub_item_number"`
	Description      string                  `json:"description"`
	UnitValue        decimal.Decimal         `json:"unit_value"`
	Quantity         *int                    `json:"quantity"`
	OvertimeHours    decimal.Decimal         `json:"overtime_hours"`
	OvertimeRate     decimal.Decimal         `json:"overtime_rate"`
	PaymentCondition models.PaymentCondition `json:"payment_condition"`
	DueDate          string                  `json:"due_date"`
	PaymentMethod    models.PaymentMethod    `json:"payment_method"`
	VendorID         string                  `json:"vendor_id"`
	ItemStatus       models.ItemStatus       `json:"item_status"`
	PaymentStatus    models.PaymentStatus    `json:"payment_status"`
	ActualPaidValue  decimal.NullDecimal     `json:"actual_paid_value"`
	PaymentDate      string                  `json:"payment_date"`
	Notes            string                  `json:"notes"`
}

// Patch is a partial update of a cost item. Absent fields are left as is.
type Patch struct {
	PeriodMonth          Optional[string]                      `json:"period_month"`
	ItemNumber           Optional[int]                         `json:"item_number"`
	SubItemNumber        Optional[int]                         `json:"sub_item_number"`
	Description          Optional[string]                      `json:"description"`
	UnitValue            Optional[decimal.Decimal]             `json:"unit_value"`
	Quantity             Optional[int]                         `json:"quantity"`
	OvertimeHours        Optional[decimal.Decimal]             `json:"overtime_hours"`
	OvertimeRate         Optional[decimal.Decimal]             `json:"overtime_rate"`
	PaymentCondition     Optional[models.PaymentCondition]     `json:"payment_condition"`
	DueDate              Optional[string]                      `json:"due_date"`
	PaymentMethod        Optional[models.PaymentMethod]        `json:"payment_method"`
	VendorID             Optional[string]                      `json:"vendor_id"`
	ItemStatus           Optional[models.ItemStatus]           `json:"item_status"`
	InvoiceRequestStatus Optional[models.InvoiceRequestStatus] `json:"invoice_request_status"`
	PaymentStatus        Optional[models.PaymentStatus]        `json:"payment_status"`
	ActualPaidValue      Optional[decimal.Decimal]             `json:"actual_paid_value"`
	PaymentDate          Optional[string]                      `json:"payment_date"`
	Notes                Optional[string]                      `json:"notes"`

	// Version, when set, must equal the stored version.
	Version Optional[int64] `json:"version"`
}

// Keys the caller may never write, with the reason reported back.
var protectedKeys = map[string]string{
	"line_total":          "is computed from unit_value and quantity",
	"overtime_total":      "is computed from overtime_hours and overtime_rate",
	"total_with_overtime": "is computed from the line and overtime totals",
	"is_category_header":  "is derived from sub_item_number",
	"alerts":              "is computed on read",
	"counterparty":        "is captured from vendor_id",

	"id":         "is immutable",
	"tenant_id":  "is immutable",
	"created_at": "is immutable",
	"created_by": "is immutable",
	"updated_at": "is maintained by the ledger",
	"deleted_at": "is maintained by the ledger",

	"invoice_document_id":   "is managed by invoice matching",
	"invoice_value":         "is managed by invoice matching",
	"invoice_validation_ok": "is managed by invoice matching",
	"invoice_requested_at":  "is managed by the invoice request dispatcher",
	"invoice_requested_by":  "is managed by the invoice request dispatcher",
}

var createKeys = keySet(
	"job_id", "period_month", "item_number", "sub_item_number", "description",
	"unit_value", "quantity", "overtime_hours", "overtime_rate",
	"payment_condition", "due_date", "payment_method", "vendor_id",
	"item_status", "payment_status", "actual_paid_value", "payment_date", "notes",
)

var patchKeys = keySet(
	"period_month", "item_number", "sub_item_number", "description",
	"unit_value", "quantity", "overtime_hours", "overtime_rate",
	"payment_condition", "due_date", "payment_method", "vendor_id",
	"item_status", "invoice_request_status", "payment_status",
	"actual_paid_value", "payment_date", "notes", "version",
)

// Patch keys that reject an explicit null.
var notNullKeys = keySet(
	"item_number", "sub_item_number", "description", "quantity",
	"item_status", "invoice_request_status", "payment_status", "version",
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// checkKeys rejects protected and unknown keys, reporting the first one in
// alphabetical order.
func checkKeys(raw map[string]json.RawMessage, allowed map[string]bool, immutable ...string) error {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, im := range immutable {
			if k == im {
				return apperr.Validation(k, "%s is immutable", k)
			}
		}
		if reason, ok := protectedKeys[k]; ok {
			return apperr.Validation(k, "%s %s and cannot be set", k, reason)
		}
		if !allowed[k] {
			return apperr.Validation(k, "unknown field %s", k)
		}
	}
	return nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Validation("", "invalid JSON body: %v", err)
	}
	if raw == nil {
		return nil, apperr.Validation("", "request body must be a JSON object")
	}
	return raw, nil
}

// DecodeCreate parses a create request body.
func DecodeCreate(data []byte) (CreateInput, error) {
	var in CreateInput
	raw, err := decodeObject(data)
	if err != nil {
		return in, err
	}
	if err := checkKeys(raw, createKeys); err != nil {
		return in, err
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, apperr.Validation("", "invalid cost item: %v", err)
	}
	return in, nil
}

// DecodeBatch parses {"items": [...]} into create inputs.
func DecodeBatch(data []byte) ([]CreateInput, error) {
	var body struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, apperr.Validation("", "invalid JSON body: %v", err)
	}
	inputs := make([]CreateInput, 0, len(body.Items))
	for i, item := range body.Items {
		in, err := DecodeCreate(item)
		if err != nil {
			return nil, apperr.From(err).WithDetail("index", i)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// DecodePatch parses an update request body. job_id is immutable once the
// item exists.
func DecodePatch(data []byte) (Patch, error) {
	var p Patch
	raw, err := decodeObject(data)
	if err != nil {
		return p, err
	}
	if len(raw) == 0 {
		return p, apperr.Validation("", "patch is empty")
	}
	if err := checkKeys(raw, patchKeys, "job_id"); err != nil {
		return p, err
	}
	for k, v := range raw {
		if notNullKeys[k] && string(v) == "null" {
			return p, apperr.Validation(k, "%s cannot be null", k)
		}
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, apperr.Validation("", "invalid patch: %v", err)
	}
	return p, nil
}

// toItem builds the unsaved item. Statuses default to budgeted, pending and
// pending; header lines never expect an invoice.
func (in CreateInput) toItem() *models.CostItem {
	qty := 1
	if in.Quantity != nil {
		qty = *in.Quantity
	}
	item := &models.CostItem{
		JobID:            strings.TrimSpace(in.JobID),
		PeriodMonth:      strings.TrimSpace(in.PeriodMonth),
		ItemNumber:       in.ItemNumber,
		SubItemNumber:    in.SubItemNumber,
		IsCategoryHeader: in.SubItemNumber == 0,
		Description:      strings.TrimSpace(in.Description),
		UnitValue:        in.UnitValue,
		Quantity:         qty,
		OvertimeHours:    in.OvertimeHours,
		OvertimeRate:     in.OvertimeRate,
		PaymentCondition: in.PaymentCondition,
		DueDate:          in.DueDate,
		PaymentMethod:    in.PaymentMethod,
		ItemStatus:       in.ItemStatus,
		PaymentStatus:    in.PaymentStatus,
		ActualPaidValue:  in.ActualPaidValue,
		PaymentDate:      in.PaymentDate,
		Notes:            in.Notes,
	}
	if item.ItemStatus == "" {
		item.ItemStatus = models.ItemBudgeted
	}
	if item.PaymentStatus == "" {
		item.PaymentStatus = models.PaymentPending
	}
	item.InvoiceRequestStatus = models.InvoicePending
	if item.IsCategoryHeader {
		item.InvoiceRequestStatus = models.InvoiceNotApplicable
	}
	return item
}

// apply merges the non-status fields of p into item.
func (p Patch) apply(item *models.CostItem) {
	if p.PeriodMonth.Set {
		item.PeriodMonth = strings.TrimSpace(p.PeriodMonth.Value)
	}
	if p.ItemNumber.Set {
		item.ItemNumber = p.ItemNumber.Value
	}
	if p.SubItemNumber.Set {
		item.SubItemNumber = p.SubItemNumber.Value
	}
	if p.Description.Set {
		item.Description = strings.TrimSpace(p.Description.Value)
	}
	if p.UnitValue.Set {
		item.UnitValue = p.UnitValue.Value
	}
	if p.Quantity.Set {
		item.Quantity = p.Quantity.Value
	}
	if p.OvertimeHours.Set {
		item.OvertimeHours = p.OvertimeHours.Value
	}
	if p.OvertimeRate.Set {
		item.OvertimeRate = p.OvertimeRate.Value
	}
	if p.PaymentCondition.Set {
		item.PaymentCondition = p.PaymentCondition.Value
	}
	if p.DueDate.Set {
		item.DueDate = p.DueDate.Value
	}
	if p.PaymentMethod.Set {
		item.PaymentMethod = p.PaymentMethod.Value
	}
	if p.ActualPaidValue.Set {
		item.ActualPaidValue = decimal.NullDecimal{Decimal: p.ActualPaidValue.Value, Valid: !p.ActualPaidValue.Null}
	}
	if p.PaymentDate.Set {
		item.PaymentDate = p.PaymentDate.Value
	}
	if p.Notes.Set {
		item.Notes = p.Notes.Value
	}
}

// validateItem checks the field rules that hold for every stored item.
func validateItem(item *models.CostItem) error {
	if item.JobID == "" && item.PeriodMonth == "" {
		return apperr.Validation("period_month", "fixed costs without a job require period_month")
	}
	if item.ItemNumber < MinItemNumber || item.ItemNumber > MaxItemNumber {
		return apperr.Validation("item_number", "item_number must be between %d and %d", MinItemNumber, MaxItemNumber)
	}
	if item.SubItemNumber < 0 || item.SubItemNumber > MaxSubItemNumber {
		return apperr.Validation("sub_item_number", "sub_item_number must be between 0 and %d", MaxSubItemNumber)
	}
	if n := utf8.RuneCountInString(item.Description); n == 0 || n > MaxDescriptionLen {
		return apperr.Validation("description", "description must have 1 to %d characters", MaxDescriptionLen)
	}
	if item.Quantity < 0 {
		return apperr.Validation("quantity", "quantity must not be negative")
	}

	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"unit_value", item.UnitValue},
		{"overtime_hours", item.OvertimeHours},
		{"overtime_rate", item.OvertimeRate},
		{"actual_paid_value", item.ActualPaidValue.Decimal},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return apperr.Validation(a.field, "%s must not be negative", a.field)
		}
	}

	if item.PeriodMonth != "" && !validLayout("2006-01", item.PeriodMonth) {
		return apperr.Validation("period_month", "period_month must be YYYY-MM")
	}
	if item.DueDate != "" && !validLayout(time.DateOnly, item.DueDate) {
		return apperr.Validation("due_date", "due_date must be YYYY-MM-DD")
	}
	if item.PaymentDate != "" && !validLayout(time.DateOnly, item.PaymentDate) {
		return apperr.Validation("payment_date", "payment_date must be YYYY-MM-DD")
	}

	if item.PaymentCondition != "" && !item.PaymentCondition.Valid() {
		return apperr.Validation("payment_condition", "unknown payment_condition %q", item.PaymentCondition)
	}
	if item.PaymentMethod != "" && !item.PaymentMethod.Valid() {
		return apperr.Validation("payment_method", "unknown payment_method %q", item.PaymentMethod)
	}
	if !item.ItemStatus.Valid() {
		return apperr.Validation("item_status", "unknown item_status %q", item.ItemStatus)
	}
	if !item.InvoiceRequestStatus.Valid() {
		return apperr.Validation("invoice_request_status", "unknown invoice_request_status %q", item.InvoiceRequestStatus)
	}
	if !item.PaymentStatus.Valid() {
		return apperr.Validation("payment_status", "unknown payment_status %q", item.PaymentStatus)
	}

	if item.IsCategoryHeader {
		if !item.UnitValue.IsZero() || !item.OvertimeHours.IsZero() || !item.OvertimeRate.IsZero() || item.ActualPaidValue.Valid {
			return apperr.Validation("sub_item_number", "category header lines carry no amounts")
		}
		if item.Counterparty.VendorID != "" {
			return apperr.Validation("vendor_id", "category header lines have no counterparty")
		}
	}
	return nil
}

func validLayout(layout, value string) bool {
	_, err := time.Parse(layout, value)
	return err == nil
}
