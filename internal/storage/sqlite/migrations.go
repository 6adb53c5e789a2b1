package sqlite

import "database/sql"

// schema sets up the database. It runs on startup to ensure tables exist.
// Money columns are TEXT holding exact decimal strings.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    code TEXT NOT NULL,
    title TEXT NOT NULL,
    production_type TEXT NOT NULL DEFAULT '',
    contracted_value TEXT NOT NULL DEFAULT '0',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    production_type TEXT NOT NULL,
    item_number INTEGER NOT NULL,
    name TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS vendors (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    tax_id TEXT NOT NULL DEFAULT '',
    pix_key TEXT,
    bank_name TEXT,
    agency TEXT,
    account TEXT
);

CREATE TABLE IF NOT EXISTS cost_items (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    job_id TEXT REFERENCES jobs(id),
    period_month TEXT NOT NULL DEFAULT '',
    item_number INTEGER NOT NULL,
    sub_item_number INTEGER NOT NULL,
    is_category_header INTEGER NOT NULL,
    description TEXT NOT NULL,
    unit_value TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    line_total TEXT NOT NULL,
    overtime_hours TEXT NOT NULL,
    overtime_rate TEXT NOT NULL,
    overtime_total TEXT NOT NULL,
    total_with_overtime TEXT NOT NULL,
    total_sort REAL NOT NULL DEFAULT 0,
    payment_condition TEXT NOT NULL DEFAULT '',
    due_date TEXT NOT NULL DEFAULT '',
    payment_method TEXT NOT NULL DEFAULT '',
    vendor_id TEXT NOT NULL DEFAULT '',
    vendor_name TEXT NOT NULL DEFAULT '',
    vendor_email TEXT NOT NULL DEFAULT '',
    vendor_tax_id TEXT NOT NULL DEFAULT '',
    vendor_payout_key TEXT NOT NULL DEFAULT '',
    vendor_bank_name TEXT NOT NULL DEFAULT '',
    item_status TEXT NOT NULL,
    invoice_request_status TEXT NOT NULL,
    payment_status TEXT NOT NULL,
    invoice_requested_at INTEGER NOT NULL DEFAULT 0,
    invoice_requested_by TEXT NOT NULL DEFAULT '',
    invoice_document_id TEXT NOT NULL DEFAULT '',
    invoice_value TEXT,
    invoice_validation_ok INTEGER NOT NULL DEFAULT 0,
    actual_paid_value TEXT,
    payment_date TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL,
    created_by TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS invoice_documents (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    job_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    sender_email TEXT NOT NULL DEFAULT '',
    sender_name TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    file_size INTEGER NOT NULL DEFAULT 0,
    received_at INTEGER NOT NULL,
    extracted TEXT NOT NULL,
    confirmed TEXT,
    issuer_name TEXT NOT NULL DEFAULT '',
    invoice_number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    cost_item_id TEXT NOT NULL DEFAULT '',
    match_confidence REAL NOT NULL DEFAULT 0,
    match_method TEXT NOT NULL DEFAULT '',
    candidates TEXT NOT NULL DEFAULT '[]',
    reviewed_by TEXT NOT NULL DEFAULT '',
    reviewed_at INTEGER NOT NULL DEFAULT 0,
    rejection_reason TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (tenant_id, content_hash)
);

CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    job_id TEXT NOT NULL,
    cost_item_id TEXT NOT NULL,
    event TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    description TEXT NOT NULL,
    before_json TEXT,
    after_json TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatch_outcomes (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    dispatch_id TEXT NOT NULL,
    group_key TEXT NOT NULL,
    recipient TEXT NOT NULL DEFAULT '',
    cost_item_ids TEXT NOT NULL,
    total TEXT NOT NULL,
    sent INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    actor_id TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_categories_tenant_type ON categories(tenant_id, production_type);
CREATE INDEX IF NOT EXISTS idx_cost_items_tenant_job ON cost_items(tenant_id, job_id);
CREATE INDEX IF NOT EXISTS idx_cost_items_tenant_invoice ON cost_items(tenant_id, invoice_request_status);
CREATE INDEX IF NOT EXISTS idx_invoice_documents_tenant_status ON invoice_documents(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_audit_entries_item ON audit_entries(tenant_id, cost_item_id);
CREATE INDEX IF NOT EXISTS idx_dispatch_outcomes_dispatch ON dispatch_outcomes(tenant_id, dispatch_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
