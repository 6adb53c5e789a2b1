// Package auth resolves callers to a tenant-scoped principal and decides
// which operations each role may perform.
package auth

// Role is the caller's role within its tenant.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleCEO               Role = "ceo"
	RoleFinance           Role = "finance"
	RoleExecutiveProducer Role = "executive_producer"
	RoleCoordinator       Role = "coordinator"
	// RoleIngestion is the service account of the document ingestion pipeline.
	RoleIngestion Role = "ingestion"
)

func (r Role) Valid() bool {
	_, ok := grants[r]
	return ok
}

// Operation is a capability checked once per request.
type Operation string

const (
	ReadCostItems    Operation = "cost_items:read"
	WriteCostItems   Operation = "cost_items:write"
	ExportCostItems  Operation = "cost_items:export"
	ApplyTemplates   Operation = "templates:apply"
	ReadInvoices     Operation = "invoices:read"
	ReviewInvoices   Operation = "invoices:review"
	IngestInvoices   Operation = "invoices:ingest"
	DispatchRequests Operation = "invoice_requests:dispatch"
	RecordPayments   Operation = "payments:write"
	// UndoAnyPayment lifts the time window on undoing a payment.
	UndoAnyPayment Operation = "payments:undo_any"
)

var staff = []Operation{
	ReadCostItems, WriteCostItems, ExportCostItems,
	ReadInvoices, ReviewInvoices, DispatchRequests,
}

var grants = map[Role]map[Operation]bool{
	RoleAdmin:             set(append(staff, ApplyTemplates, RecordPayments, UndoAnyPayment)...),
	RoleCEO:               set(append(staff, ApplyTemplates, RecordPayments, UndoAnyPayment)...),
	RoleExecutiveProducer: set(append(staff, ApplyTemplates)...),
	RoleFinance:           set(append(staff, RecordPayments)...),
	RoleCoordinator:       set(ReadCostItems),
	RoleIngestion:         set(IngestInvoices),
}

func set(ops ...Operation) map[Operation]bool {
	m := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// Principal is a caller resolved by the identity provider.
type Principal struct {
	TenantID string
	UserID   string
	Role     Role
}

// Can reports whether the principal may perform op.
func (p Principal) Can(op Operation) bool {
	return grants[p.Role][op]
}

// System returns a principal for operator tooling acting on a tenant.
func System(tenantID string) Principal {
	return Principal{TenantID: tenantID, UserID: "system", Role: RoleAdmin}
}
