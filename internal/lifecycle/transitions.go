// Package lifecycle is the single place where cost item statuses change. It
// validates item status transitions, applies them together with field
// changes inside one transaction, and keeps the audit trail.
package lifecycle

import (
	"fmt"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/models"
)

var transitions = map[models.ItemStatus][]models.ItemStatus{
	models.ItemBudgeted: {
		models.ItemAwaitingInvoice, models.ItemInvoiceRequested, models.ItemInvoiceReceived,
		models.ItemInvoiceApproved, models.ItemPaid, models.ItemCancelled,
	},
	models.ItemAwaitingInvoice: {
		models.ItemBudgeted, models.ItemInvoiceRequested, models.ItemInvoiceReceived,
		models.ItemInvoiceApproved, models.ItemPaid, models.ItemCancelled,
	},
	models.ItemInvoiceRequested: {
		models.ItemBudgeted, models.ItemAwaitingInvoice, models.ItemInvoiceReceived,
		models.ItemInvoiceApproved, models.ItemPaid, models.ItemCancelled,
	},
	models.ItemInvoiceReceived: {
		models.ItemBudgeted, models.ItemAwaitingInvoice, models.ItemInvoiceApproved,
		models.ItemPaid, models.ItemCancelled,
	},
	models.ItemInvoiceApproved: {
		models.ItemBudgeted, models.ItemPaid, models.ItemCancelled,
	},
	models.ItemPaid: {
		models.ItemCancelled,
	},
	models.ItemCancelled: {
		models.ItemBudgeted,
	},
}

// CanTransition reports whether the table allows moving from one status to
// another. Staying in the same status is not a transition.
func CanTransition(from, to models.ItemStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from status.
func AllowedTransitions(from models.ItemStatus) []models.ItemStatus {
	return append([]models.ItemStatus(nil), transitions[from]...)
}

// ValidateTransition returns a business rule violation naming the attempted
// pair when the move is not allowed.
func ValidateTransition(from, to models.ItemStatus) error {
	if !to.Valid() {
		return apperr.Validation("item_status", "unknown item_status %q", to)
	}
	if CanTransition(from, to) {
		return nil
	}
	allowed := make([]string, 0, len(transitions[from]))
	for _, s := range transitions[from] {
		allowed = append(allowed, string(s))
	}
	return &apperr.Error{
		Code:    apperr.CodeBusinessRule,
		Message: fmt.Sprintf("invalid item_status transition: %s -> %s", from, to),
		Details: map[string]any{
			"from":    string(from),
			"to":      string(to),
			"allowed": allowed,
		},
	}
}

// reversible are the statuses an undone payment may return an item to.
var reversible = []models.ItemStatus{
	models.ItemBudgeted, models.ItemAwaitingInvoice, models.ItemInvoiceRequested,
	models.ItemInvoiceReceived, models.ItemInvoiceApproved,
}

// ValidateReversal checks the move of an undone payment: only a paid item
// may go back, and only to a status that precedes payment.
func ValidateReversal(from, to models.ItemStatus) error {
	if !to.Valid() {
		return apperr.Validation("item_status", "unknown item_status %q", to)
	}
	if from == models.ItemPaid {
		for _, s := range reversible {
			if s == to {
				return nil
			}
		}
	}
	return apperr.BusinessRule("cannot reverse a payment from %s to %s", from, to).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}
