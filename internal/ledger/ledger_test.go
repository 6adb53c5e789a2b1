package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage"
	"github.com/mmynk/payables/internal/storage/sqlite"
)

var actor = auth.Principal{TenantID: "t1", UserID: "finance-1", Role: auth.RoleFinance}

func setupLedger(t *testing.T) (*Service, *sqlite.SQLiteStore, *models.Job) {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	job := &models.Job{
		TenantID:        "t1",
		Code:            "JOB-001",
		Title:           "Filme Verão",
		ProductionType:  "film",
		ContractedValue: decimal.NewFromInt(10000),
	}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	return NewService(store, lifecycle.NewController(store)), store, job
}

func createVendor(t *testing.T, store storage.Store, name string) *models.Vendor {
	t.Helper()

	v := &models.Vendor{
		TenantID: "t1",
		Name:     name,
		Email:    "nf@example.com",
		TaxID:    "12.345.678/0001-90",
		PrimaryAccount: &models.PayoutAccount{
			PixKey:   "pix-" + name,
			BankName: "Banco X",
		},
	}
	if err := store.CreateVendor(context.Background(), v); err != nil {
		t.Fatalf("failed to create vendor: %v", err)
	}
	return v
}

func line(jobID string, unit int64, qty int) CreateInput {
	return CreateInput{
		JobID:         jobID,
		ItemNumber:    2,
		SubItemNumber: 1,
		Description:   "Gaffer",
		UnitValue:     decimal.NewFromInt(unit),
		Quantity:      &qty,
	}
}

func mustCreate(t *testing.T, svc *Service, in CreateInput) *models.CostItem {
	t.Helper()

	item, err := svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return item
}

func expectCode(t *testing.T, err error, want apperr.Code) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := apperr.CodeOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func TestCreate_ComputesTotals(t *testing.T) {
	svc, _, job := setupLedger(t)

	item := mustCreate(t, svc, line(job.ID, 1000, 2))

	if !item.LineTotal.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("line_total = %s, want 2000", item.LineTotal)
	}
	if !item.TotalWithOvertime.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("total_with_overtime = %s, want 2000", item.TotalWithOvertime)
	}
	if item.ItemStatus != models.ItemBudgeted || item.InvoiceRequestStatus != models.InvoicePending || item.PaymentStatus != models.PaymentPending {
		t.Errorf("unexpected initial statuses %s/%s/%s", item.ItemStatus, item.InvoiceRequestStatus, item.PaymentStatus)
	}
	if item.IsCategoryHeader {
		t.Error("sub-item 1 must not be a header")
	}
	if item.CreatedBy != actor.UserID || item.Version != 1 {
		t.Errorf("created_by = %q version = %d", item.CreatedBy, item.Version)
	}
}

func TestCreate_DefaultsQuantityToOne(t *testing.T) {
	svc, _, job := setupLedger(t)

	in := line(job.ID, 350, 0)
	in.Quantity = nil
	item := mustCreate(t, svc, in)

	if item.Quantity != 1 || !item.TotalWithOvertime.Equal(decimal.NewFromInt(350)) {
		t.Errorf("quantity = %d total = %s", item.Quantity, item.TotalWithOvertime)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, job := setupLedger(t)

	tests := []struct {
		name   string
		mutate func(*CreateInput)
		want   apperr.Code
		field  string
	}{
		{"item number too low", func(in *CreateInput) { in.ItemNumber = 0 }, apperr.CodeValidation, "item_number"},
		{"item number too high", func(in *CreateInput) { in.ItemNumber = 100 }, apperr.CodeValidation, "item_number"},
		{"negative sub item", func(in *CreateInput) { in.SubItemNumber = -1 }, apperr.CodeValidation, "sub_item_number"},
		{"sub item too high", func(in *CreateInput) { in.SubItemNumber = 100 }, apperr.CodeValidation, "sub_item_number"},
		{"fixed cost without period", func(in *CreateInput) { in.JobID = "" }, apperr.CodeValidation, "period_month"},
		{"malformed period", func(in *CreateInput) { in.JobID = ""; in.PeriodMonth = "05/2026" }, apperr.CodeValidation, "period_month"},
		{"empty description", func(in *CreateInput) { in.Description = "  " }, apperr.CodeValidation, "description"},
		{"negative unit value", func(in *CreateInput) { in.UnitValue = decimal.NewFromInt(-1) }, apperr.CodeValidation, "unit_value"},
		{"malformed due date", func(in *CreateInput) { in.DueDate = "2026-13-01" }, apperr.CodeValidation, "due_date"},
		{"unknown payment condition", func(in *CreateInput) { in.PaymentCondition = "net_7" }, apperr.CodeValidation, "payment_condition"},
		{"header with amount", func(in *CreateInput) { in.SubItemNumber = 0 }, apperr.CodeValidation, "sub_item_number"},
		{"unknown job", func(in *CreateInput) { in.JobID = "missing" }, apperr.CodeNotFound, ""},
		{"unknown vendor", func(in *CreateInput) { in.VendorID = "missing" }, apperr.CodeNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := line(job.ID, 100, 1)
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), actor, in)
			expectCode(t, err, tt.want)
			if tt.field != "" {
				if got := apperr.From(err).Details["field"]; got != tt.field {
					t.Errorf("field = %v, want %s", got, tt.field)
				}
			}
		})
	}

	items, total, err := svc.List(context.Background(), actor, storage.CostItemFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("rejected creates left %d items", total)
	}
}

func TestCreate_FixedCostWithPeriod(t *testing.T) {
	svc, _, _ := setupLedger(t)

	in := line("", 99, 1)
	in.PeriodMonth = "2026-05"
	item := mustCreate(t, svc, in)

	if item.JobID != "" || item.PeriodMonth != "2026-05" {
		t.Errorf("job = %q period = %q", item.JobID, item.PeriodMonth)
	}
}

func TestCreate_SnapshotsVendor(t *testing.T) {
	svc, store, job := setupLedger(t)
	vendor := createVendor(t, store, "Luz & Câmera")

	in := line(job.ID, 500, 1)
	in.VendorID = vendor.ID
	item := mustCreate(t, svc, in)

	want := models.CounterpartySnapshot{
		VendorID:  vendor.ID,
		Name:      "Luz & Câmera",
		Email:     "nf@example.com",
		TaxID:     "12.345.678/0001-90",
		PayoutKey: "pix-Luz & Câmera",
		BankName:  "Banco X",
	}
	if item.Counterparty != want {
		t.Errorf("snapshot = %+v, want %+v", item.Counterparty, want)
	}

	got, err := svc.Get(context.Background(), actor, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Counterparty != want {
		t.Errorf("stored snapshot = %+v", got.Counterparty)
	}
}

func TestDecodeCreate_RejectsDerivedFields(t *testing.T) {
	_, err := DecodeCreate([]byte(`{"job_id":"j","item_number":1,"sub_item_number":1,"description":"x","total_with_overtime":10}`))
	expectCode(t, err, apperr.CodeValidation)
	if got := apperr.From(err).Details["field"]; got != "total_with_overtime" {
		t.Errorf("field = %v", got)
	}
}

func TestDecodePatch(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"total with overtime", `{"total_with_overtime":"10"}`, "total_with_overtime"},
		{"line total", `{"line_total":"10"}`, "line_total"},
		{"header flag", `{"is_category_header":true}`, "is_category_header"},
		{"creator", `{"created_by":"someone"}`, "created_by"},
		{"creation time", `{"created_at":1}`, "created_at"},
		{"tenant", `{"tenant_id":"t2"}`, "tenant_id"},
		{"job", `{"job_id":"j2"}`, "job_id"},
		{"invoice linkage", `{"invoice_document_id":"d"}`, "invoice_document_id"},
		{"unknown", `{"colour":"red"}`, "colour"},
		{"null description", `{"description":null}`, "description"},
		{"empty", `{}`, ""},
		{"not an object", `[1]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePatch([]byte(tt.body))
			expectCode(t, err, apperr.CodeValidation)
			if tt.field != "" {
				if got := apperr.From(err).Details["field"]; got != tt.field {
					t.Errorf("field = %v, want %s", got, tt.field)
				}
			}
		})
	}

	p, err := DecodePatch([]byte(`{"quantity":3,"vendor_id":null,"actual_paid_value":"10.5","version":2}`))
	if err != nil {
		t.Fatalf("DecodePatch failed: %v", err)
	}
	if !p.Quantity.Set || p.Quantity.Value != 3 {
		t.Errorf("quantity = %+v", p.Quantity)
	}
	if !p.VendorID.Set || !p.VendorID.Null {
		t.Errorf("vendor_id = %+v", p.VendorID)
	}
	if !p.ActualPaidValue.Value.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("actual_paid_value = %s", p.ActualPaidValue.Value)
	}
	if p.Description.Set || p.Version.Value != 2 {
		t.Errorf("description set = %v version = %d", p.Description.Set, p.Version.Value)
	}
}

func TestUpdate_RecomputesTotals(t *testing.T) {
	svc, _, job := setupLedger(t)
	item := mustCreate(t, svc, line(job.ID, 1000, 2))

	p, err := DecodePatch([]byte(`{"quantity":3,"overtime_hours":"2","overtime_rate":50}`))
	if err != nil {
		t.Fatalf("DecodePatch failed: %v", err)
	}
	updated, err := svc.Update(context.Background(), actor, item.ID, p)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if !updated.LineTotal.Equal(decimal.NewFromInt(3000)) ||
		!updated.OvertimeTotal.Equal(decimal.NewFromInt(100)) ||
		!updated.TotalWithOvertime.Equal(decimal.NewFromInt(3100)) {
		t.Errorf("totals = %s / %s / %s", updated.LineTotal, updated.OvertimeTotal, updated.TotalWithOvertime)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
}

func TestUpdate_RejectedTransitionAbortsPatch(t *testing.T) {
	svc, _, job := setupLedger(t)
	item := mustCreate(t, svc, line(job.ID, 1000, 1))

	paid, err := svc.Update(context.Background(), actor, item.ID, Patch{ItemStatus: Some(models.ItemPaid)})
	if err != nil {
		t.Fatalf("budgeted -> paid should be allowed: %v", err)
	}

	_, err = svc.Update(context.Background(), actor, item.ID, Patch{
		ItemStatus:  Some(models.ItemInvoiceRequested),
		Description: Some("Changed"),
	})
	expectCode(t, err, apperr.CodeBusinessRule)
	details := apperr.From(err).Details
	if details["from"] != "paid" || details["to"] != "invoice_requested" {
		t.Errorf("details = %v", details)
	}

	got, err := svc.Get(context.Background(), actor, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != "Gaffer" || got.ItemStatus != models.ItemPaid || got.Version != paid.Version {
		t.Errorf("item changed: description=%q status=%s version=%d", got.Description, got.ItemStatus, got.Version)
	}
}

func TestUpdate_VendorReassignment(t *testing.T) {
	svc, store, job := setupLedger(t)
	first := createVendor(t, store, "Primeiro")
	second := createVendor(t, store, "Segundo")

	in := line(job.ID, 100, 1)
	in.VendorID = first.ID
	item := mustCreate(t, svc, in)

	updated, err := svc.Update(context.Background(), actor, item.ID, Patch{VendorID: Some(second.ID)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Counterparty.VendorID != second.ID || updated.Counterparty.Name != "Segundo" {
		t.Errorf("snapshot = %+v", updated.Counterparty)
	}

	cleared, err := svc.Update(context.Background(), actor, item.ID, Patch{VendorID: Optional[string]{Set: true, Null: true}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !cleared.Counterparty.IsZero() {
		t.Errorf("snapshot not cleared: %+v", cleared.Counterparty)
	}

	_, err = svc.Update(context.Background(), actor, item.ID, Patch{VendorID: Some("missing")})
	expectCode(t, err, apperr.CodeNotFound)
}

func TestUpdate_HeaderFlagIsFixed(t *testing.T) {
	svc, _, job := setupLedger(t)
	item := mustCreate(t, svc, line(job.ID, 100, 1))

	_, err := svc.Update(context.Background(), actor, item.ID, Patch{SubItemNumber: Some(0)})
	expectCode(t, err, apperr.CodeValidation)
}

func TestUpdate_ExpectedVersion(t *testing.T) {
	svc, _, job := setupLedger(t)
	item := mustCreate(t, svc, line(job.ID, 100, 1))

	_, err := svc.Update(context.Background(), actor, item.ID, Patch{Notes: Some("a"), Version: Some(item.Version + 5)})
	expectCode(t, err, apperr.CodeConflict)

	if _, err := svc.Update(context.Background(), actor, item.ID, Patch{Notes: Some("a"), Version: Some(item.Version)}); err != nil {
		t.Fatalf("Update with current version failed: %v", err)
	}
}

func TestUpdate_PaidDivergenceAlert(t *testing.T) {
	svc, _, job := setupLedger(t)
	item := mustCreate(t, svc, line(job.ID, 1000, 1))

	updated, err := svc.Update(context.Background(), actor, item.ID, Patch{ActualPaidValue: Some(decimal.NewFromInt(1100))})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(updated.Alerts) != 1 || updated.Alerts[0].Code != "paid_value_divergence" {
		t.Fatalf("alerts = %+v", updated.Alerts)
	}

	within, err := svc.Update(context.Background(), actor, item.ID, Patch{ActualPaidValue: Some(decimal.NewFromInt(1040))})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(within.Alerts) != 0 {
		t.Errorf("unexpected alerts %+v", within.Alerts)
	}
}

func TestUpdate_OtherTenant(t *testing.T) {
	svc, _, job := setupLedger(t)
	item := mustCreate(t, svc, line(job.ID, 100, 1))

	other := auth.Principal{TenantID: "t2", UserID: "u", Role: auth.RoleAdmin}
	_, err := svc.Update(context.Background(), other, item.ID, Patch{Notes: Some("x")})
	expectCode(t, err, apperr.CodeNotFound)
}

func TestBatchCreate(t *testing.T) {
	svc, store, job := setupLedger(t)
	vendor := createVendor(t, store, "Catering")

	inputs := make([]CreateInput, 3)
	for i := range inputs {
		inputs[i] = line(job.ID, int64(100*(i+1)), 1)
		inputs[i].SubItemNumber = i + 1
		inputs[i].VendorID = vendor.ID
	}
	items, err := svc.BatchCreate(context.Background(), actor, inputs)
	if err != nil {
		t.Fatalf("BatchCreate failed: %v", err)
	}
	if len(items) != 3 || items[2].Counterparty.Name != "Catering" {
		t.Fatalf("unexpected batch result %+v", items)
	}

	t.Run("empty", func(t *testing.T) {
		_, err := svc.BatchCreate(context.Background(), actor, nil)
		expectCode(t, err, apperr.CodeValidation)
	})

	t.Run("too many", func(t *testing.T) {
		_, err := svc.BatchCreate(context.Background(), actor, make([]CreateInput, MaxBatchSize+1))
		expectCode(t, err, apperr.CodeValidation)
	})

	t.Run("mixed jobs", func(t *testing.T) {
		mixed := []CreateInput{line(job.ID, 1, 1), line("", 1, 1)}
		mixed[1].PeriodMonth = "2026-05"
		_, err := svc.BatchCreate(context.Background(), actor, mixed)
		expectCode(t, err, apperr.CodeValidation)
	})

	t.Run("one invalid item rolls back the batch", func(t *testing.T) {
		bad := []CreateInput{line(job.ID, 1, 1), line(job.ID, 1, 1)}
		bad[1].VendorID = "missing"
		_, err := svc.BatchCreate(context.Background(), actor, bad)
		expectCode(t, err, apperr.CodeNotFound)

		_, total, err := svc.List(context.Background(), actor, storage.CostItemFilter{JobID: job.ID})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if total != 3 {
			t.Errorf("expected 3 items after rollback, got %d", total)
		}
	})
}

func TestDelete(t *testing.T) {
	svc, _, job := setupLedger(t)
	ctx := context.Background()

	t.Run("open item", func(t *testing.T) {
		item := mustCreate(t, svc, line(job.ID, 100, 1))
		if err := svc.Delete(ctx, actor, item.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		_, err := svc.Get(ctx, actor, item.ID)
		expectCode(t, err, apperr.CodeNotFound)
	})

	t.Run("paid item needs cancelling first", func(t *testing.T) {
		item := mustCreate(t, svc, line(job.ID, 100, 1))
		if _, err := svc.Update(ctx, actor, item.ID, Patch{ItemStatus: Some(models.ItemPaid), PaymentStatus: Some(models.PaymentPaid)}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		err := svc.Delete(ctx, actor, item.ID)
		expectCode(t, err, apperr.CodeBusinessRule)

		if _, err := svc.Update(ctx, actor, item.ID, Patch{ItemStatus: Some(models.ItemCancelled)}); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if err := svc.Delete(ctx, actor, item.ID); err != nil {
			t.Fatalf("Delete of cancelled item failed: %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		expectCode(t, svc.Delete(ctx, actor, "missing"), apperr.CodeNotFound)
	})
}

func seedCategories(t *testing.T, store storage.Store) {
	t.Helper()

	categories := []models.Category{
		{ProductionType: models.ProductionTypeAll, ItemNumber: 1, Name: "Pré-produção", Active: true},
		{ProductionType: models.ProductionTypeAll, ItemNumber: 2, Name: "Equipe", Active: true},
		{ProductionType: "film", ItemNumber: 2, Name: "Equipe de filmagem", Active: true},
		{ProductionType: "film", ItemNumber: 3, Name: "Câmera", Active: true},
		{ProductionType: "film", ItemNumber: 4, Name: "Inativa", Active: false},
		{ProductionType: "radio", ItemNumber: 5, Name: "Estúdio", Active: true},
	}
	for i := range categories {
		categories[i].TenantID = "t1"
		if err := store.CreateCategory(context.Background(), &categories[i]); err != nil {
			t.Fatalf("failed to create category: %v", err)
		}
	}
}

func TestApplyTemplate(t *testing.T) {
	svc, store, job := setupLedger(t)
	seedCategories(t, store)
	ctx := context.Background()

	created, err := svc.ApplyTemplate(ctx, actor, job.ID)
	if err != nil {
		t.Fatalf("ApplyTemplate failed: %v", err)
	}

	want := []struct {
		number int
		name   string
	}{
		{1, "Pré-produção"},
		{2, "Equipe de filmagem"},
		{3, "Câmera"},
	}
	if len(created) != len(want) {
		t.Fatalf("created %d headers, want %d", len(created), len(want))
	}
	for i, w := range want {
		h := created[i]
		if h.ItemNumber != w.number || h.Description != w.name || !h.IsCategoryHeader || h.SubItemNumber != 0 {
			t.Errorf("header %d = %d %q header=%v", i, h.ItemNumber, h.Description, h.IsCategoryHeader)
		}
		if h.InvoiceRequestStatus != models.InvoiceNotApplicable {
			t.Errorf("header %d invoice status = %s", i, h.InvoiceRequestStatus)
		}
	}

	again, err := svc.ApplyTemplate(ctx, actor, job.ID)
	if err != nil {
		t.Fatalf("second ApplyTemplate failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second run created %d headers", len(again))
	}

	_, total, err := svc.List(ctx, actor, storage.CostItemFilter{JobID: job.ID, HeadersOnly: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 {
		t.Errorf("job has %d headers, want 3", total)
	}
}

func TestApplyTemplate_NoCategories(t *testing.T) {
	svc, _, job := setupLedger(t)

	_, err := svc.ApplyTemplate(context.Background(), actor, job.ID)
	expectCode(t, err, apperr.CodeBusinessRule)

	_, err = svc.ApplyTemplate(context.Background(), actor, "missing")
	expectCode(t, err, apperr.CodeNotFound)
}

func TestCopy_ResetsProgress(t *testing.T) {
	svc, store, job := setupLedger(t)
	vendor := createVendor(t, store, "Som")
	target := &models.Job{TenantID: "t1", Code: "JOB-002", Title: "Outro"}
	if err := store.CreateJob(context.Background(), target); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	in := line(job.ID, 800, 2)
	in.VendorID = vendor.ID
	in.DueDate = "2026-06-10"
	src := mustCreate(t, svc, in)
	if _, err := svc.Update(context.Background(), actor, src.ID, Patch{
		ItemStatus:      Some(models.ItemPaid),
		PaymentStatus:   Some(models.PaymentPaid),
		ActualPaidValue: Some(decimal.NewFromInt(1600)),
		PaymentDate:     Some("2026-06-12"),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	copied, err := svc.Copy(context.Background(), actor, src.ID, target.ID)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	if copied.ID == src.ID || copied.JobID != target.ID {
		t.Errorf("copy id = %s job = %s", copied.ID, copied.JobID)
	}
	if copied.ItemStatus != models.ItemBudgeted || copied.InvoiceRequestStatus != models.InvoicePending || copied.PaymentStatus != models.PaymentPending {
		t.Errorf("statuses not reset: %s/%s/%s", copied.ItemStatus, copied.InvoiceRequestStatus, copied.PaymentStatus)
	}
	if copied.ActualPaidValue.Valid || copied.PaymentDate != "" || copied.InvoiceDocumentID != "" {
		t.Errorf("payment fields not reset: %+v", copied)
	}
	if !copied.TotalWithOvertime.Equal(decimal.NewFromInt(1600)) || copied.Counterparty.Name != "Som" || copied.DueDate != "2026-06-10" {
		t.Errorf("budget fields not kept: total=%s vendor=%q due=%q", copied.TotalWithOvertime, copied.Counterparty.Name, copied.DueDate)
	}

	_, err = svc.Copy(context.Background(), actor, src.ID, "missing")
	expectCode(t, err, apperr.CodeNotFound)
}

func TestBudgetSummary(t *testing.T) {
	svc, store, job := setupLedger(t)
	seedCategories(t, store)
	ctx := context.Background()

	if _, err := svc.ApplyTemplate(ctx, actor, job.ID); err != nil {
		t.Fatalf("ApplyTemplate failed: %v", err)
	}

	a := line(job.ID, 1000, 2)
	a.ItemNumber = 2
	b := line(job.ID, 500, 1)
	b.ItemNumber = 3
	c := line(job.ID, 700, 1)
	c.ItemNumber = 3
	c.SubItemNumber = 2
	mustCreate(t, svc, a)
	paid := mustCreate(t, svc, b)
	cancelled := mustCreate(t, svc, c)

	if _, err := svc.Update(ctx, actor, paid.ID, Patch{ItemStatus: Some(models.ItemPaid), ActualPaidValue: Some(decimal.NewFromInt(450))}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := svc.Update(ctx, actor, cancelled.ID, Patch{ItemStatus: Some(models.ItemCancelled)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	s, err := svc.BudgetSummary(ctx, actor, job.ID)
	if err != nil {
		t.Fatalf("BudgetSummary failed: %v", err)
	}

	sum := decimal.Zero
	for _, c := range s.ByCategory {
		sum = sum.Add(c.TotalBudgeted)
	}
	if !sum.Equal(s.TotalEstimated) {
		t.Errorf("category sum %s != total_estimated %s", sum, s.TotalEstimated)
	}
	if !s.TotalEstimated.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("total_estimated = %s, want 2500", s.TotalEstimated)
	}
	if !s.TotalPaid.Equal(decimal.NewFromInt(450)) || !s.Balance.Equal(decimal.NewFromInt(2050)) {
		t.Errorf("total_paid = %s balance = %s", s.TotalPaid, s.Balance)
	}
	if !s.MarginGross.Equal(decimal.NewFromInt(7500)) || !s.MarginPct.Equal(decimal.NewFromInt(75)) {
		t.Errorf("margin = %s (%s%%)", s.MarginGross, s.MarginPct)
	}

	_, err = svc.BudgetSummary(ctx, actor, "missing")
	expectCode(t, err, apperr.CodeNotFound)
}

func TestExport(t *testing.T) {
	svc, _, job := setupLedger(t)
	in := line(job.ID, 1234, 1)
	in.DueDate = "2026-07-01"
	mustCreate(t, svc, in)

	pt, err := svc.Export(context.Background(), actor, job.ID, "pt-BR")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(pt.Rows) != 1 || len(pt.Columns) != len(pt.Rows[0]) {
		t.Fatalf("unexpected table shape: %d columns, rows %v", len(pt.Columns), pt.Rows)
	}
	row := pt.Rows[0]
	if row[13] != "Orçado" || row[14] != "Pendente" || row[12] != "01/07/2026" {
		t.Errorf("pt-BR row = %v", row)
	}
	if pt.Comma != ';' {
		t.Errorf("pt-BR export should use ';'")
	}

	en, err := svc.Export(context.Background(), actor, job.ID, "en-US")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if en.Rows[0][13] != "Budgeted" || en.Rows[0][12] != "2026-07-01" {
		t.Errorf("en row = %v", en.Rows[0])
	}
}

func TestList_RejectsUnknownSort(t *testing.T) {
	svc, _, _ := setupLedger(t)

	_, _, err := svc.List(context.Background(), actor, storage.CostItemFilter{Page: storage.Page{Sort: "vendor_id; DROP TABLE"}})
	expectCode(t, err, apperr.CodeValidation)
}
