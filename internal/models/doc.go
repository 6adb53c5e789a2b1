// Package models defines the domain models of the payables core.
//
// # Entities
//
//   - CostItem: a budget line (or category header) of a job, or of a
//     fixed-cost period when it has no job
//   - InvoiceDocument: an inbound invoice with extracted and confirmed fields
//   - Job, Category, Vendor: reference data read by the ledger
//   - AuditEntry, DispatchOutcome: append-only history
//
// # Conventions
//
//  1. Money is decimal.Decimal, never float64
//  2. Relationships are ID strings, not pointers
//  3. Timestamps are Unix seconds; zero means unset
//  4. Every row carries TenantID and every query is scoped by it
//  5. Version is the compare-and-swap token for mutable rows
package models
