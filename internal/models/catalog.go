package models

import "github.com/shopspring/decimal"

// ProductionTypeAll marks a category that applies to every production type.
const ProductionTypeAll = "all"

// Job is a production project owning a budget.
type Job struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Code            string          `json:"code"`
	Title           string          `json:"title"`
	ProductionType  string          `json:"production_type,omitempty"`
	ContractedValue decimal.Decimal `json:"contracted_value"`
	CreatedAt       int64           `json:"created_at"`
}

// Category is a template entry creating one header line per job.
type Category struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	ProductionType string `json:"production_type"`
	ItemNumber     int    `json:"item_number"`
	Name           string `json:"name"`
	Active         bool   `json:"active"`
}

// Vendor is a counterparty as kept by the vendor directory.
type Vendor struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	TaxID    string `json:"tax_id,omitempty"`
	// PrimaryAccount is nil when the vendor has no payout account.
	PrimaryAccount *PayoutAccount `json:"primary_account,omitempty"`
}

type PayoutAccount struct {
	PixKey   string `json:"pix_key,omitempty"`
	BankName string `json:"bank_name,omitempty"`
	Agency   string `json:"agency,omitempty"`
	Account  string `json:"account,omitempty"`
}

// Snapshot captures the vendor identity for a cost item.
func (v *Vendor) Snapshot() CounterpartySnapshot {
	s := CounterpartySnapshot{
		VendorID: v.ID,
		Name:     v.Name,
		Email:    v.Email,
		TaxID:    v.TaxID,
	}
	if v.PrimaryAccount != nil {
		s.PayoutKey = v.PrimaryAccount.PixKey
		s.BankName = v.PrimaryAccount.BankName
	}
	return s
}
