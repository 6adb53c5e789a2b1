package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DocumentStatus is the review state of an inbound invoice.
type DocumentStatus string

const (
	DocumentProcessing    DocumentStatus = "processing"
	DocumentPendingReview DocumentStatus = "pending_review"
	DocumentAutoMatched   DocumentStatus = "auto_matched"
	DocumentConfirmed     DocumentStatus = "confirmed"
	DocumentRejected      DocumentStatus = "rejected"
)

var DocumentStatuses = []DocumentStatus{
	DocumentProcessing, DocumentPendingReview, DocumentAutoMatched, DocumentConfirmed, DocumentRejected,
}

func (s DocumentStatus) Valid() bool {
	for _, v := range DocumentStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether a reviewer has closed the document.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentConfirmed || s == DocumentRejected
}

// MatchMethod records who paired the document with its obligation.
type MatchMethod string

const (
	MatchAuto   MatchMethod = "auto"
	MatchManual MatchMethod = "manual"
)

// InvoiceFields are the business fields of an invoice, either machine
// extracted or confirmed by a reviewer.
type InvoiceFields struct {
	IssuerName    string              `json:"issuer_name,omitempty"`
	IssuerTaxID   string              `json:"issuer_tax_id,omitempty"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	Value         decimal.NullDecimal `json:"value"`
	IssueDate     string              `json:"issue_date,omitempty"` // YYYY-MM-DD
}

// HasIdentifier reports whether the fields name a counterparty or an
// invoice number.
func (f InvoiceFields) HasIdentifier() bool {
	return strings.TrimSpace(f.IssuerTaxID) != "" ||
		strings.TrimSpace(f.IssuerName) != "" ||
		strings.TrimSpace(f.InvoiceNumber) != ""
}

// MatchCandidate is one scored obligation kept to assist a reviewer.
type MatchCandidate struct {
	CostItemID        string  `json:"cost_item_id"`
	Score             float64 `json:"score"`
	AmountScore       float64 `json:"amount_score"`
	CounterpartyScore float64 `json:"counterparty_score"`
	DateScore         float64 `json:"date_score"`
	// DateKnown is false when the date signal was left out of Score.
	DateKnown bool `json:"date_known"`
}

// InvoiceDocument is an inbound invoice artifact.
type InvoiceDocument struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	// JobID is an optional hint narrowing the candidate set.
	JobID  string `json:"job_id,omitempty"`
	Source string `json:"source"`

	SenderEmail string `json:"sender_email,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	Subject     string `json:"subject,omitempty"`
	FileName    string `json:"file_name"`
	ContentHash string `json:"content_hash"`
	FileSize    int64  `json:"file_size"`
	ReceivedAt  int64  `json:"received_at"`

	Extracted InvoiceFields `json:"extracted"`
	// Confirmed is nil until a reviewer confirms the document.
	Confirmed *InvoiceFields `json:"confirmed,omitempty"`

	Status          DocumentStatus   `json:"status"`
	CostItemID      string           `json:"cost_item_id,omitempty"`
	Confidence      float64          `json:"match_confidence"`
	MatchMethod     MatchMethod      `json:"match_method,omitempty"`
	Candidates      []MatchCandidate `json:"candidates,omitempty"`
	ReviewedBy      string           `json:"reviewed_by,omitempty"`
	ReviewedAt      int64            `json:"reviewed_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`

	Version   int64 `json:"version"`
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Effective returns the confirmed fields when present, else the extracted ones.
func (d *InvoiceDocument) Effective() InvoiceFields {
	if d.Confirmed != nil {
		return *d.Confirmed
	}
	return d.Extracted
}
