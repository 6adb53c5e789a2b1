package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/storage/sqlite"
)

var actor = auth.Principal{TenantID: "t1", UserID: "finance-1", Role: auth.RoleFinance}

// fakeSender records messages and fails for the listed recipients.
type fakeSender struct {
	mu    sync.Mutex
	sent  []Message
	fail  map[string]bool
	block bool
	// stall makes Send sleep without watching ctx.
	stall time.Duration
}

func (s *fakeSender) Send(ctx context.Context, msg Message) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.stall > 0 {
		time.Sleep(s.stall)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.To] {
		return errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	sender     *fakeSender
	ctl        *lifecycle.Controller
	store      *sqlite.SQLiteStore
	job        *models.Job
}

func setupDispatcher(t *testing.T, timeout string) *fixture {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	job := &models.Job{TenantID: "t1", Code: "JOB-001", Title: "Filme"}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	cfg := config.Default().Dispatch
	cfg.CompanyName = "Produtora Teste"
	if timeout != "" {
		cfg.Timeout = timeout
	}
	ctl := lifecycle.NewController(store)
	sender := &fakeSender{fail: map[string]bool{}}
	d, err := NewDispatcher(store, ctl, sender, cfg)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return &fixture{dispatcher: d, sender: sender, ctl: ctl, store: store, job: job}
}

func (f *fixture) item(t *testing.T, desc string, amount int64, name, email string) *models.CostItem {
	t.Helper()

	item := &models.CostItem{
		JobID:                f.job.ID,
		ItemNumber:           3,
		SubItemNumber:        1,
		Description:          desc,
		UnitValue:            decimal.NewFromInt(amount),
		Quantity:             1,
		Counterparty:         models.CounterpartySnapshot{Name: name, Email: email},
		ItemStatus:           models.ItemBudgeted,
		InvoiceRequestStatus: models.InvoicePending,
		PaymentStatus:        models.PaymentPending,
	}
	if err := f.ctl.Create(context.Background(), actor, item); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return item
}

func (f *fixture) costItem(t *testing.T, id string) *models.CostItem {
	t.Helper()
	item, err := f.store.GetCostItem(context.Background(), "t1", id)
	if err != nil {
		t.Fatalf("GetCostItem failed: %v", err)
	}
	return item
}

func expectCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if got := apperr.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func line(desc, name, email string, amount int64) Line {
	return Line{Item: models.CostItem{
		ID:                desc,
		Description:       desc,
		TotalWithOvertime: decimal.NewFromInt(amount),
		Counterparty:      models.CounterpartySnapshot{Name: name, Email: email},
	}}
}

func TestGroupByCounterparty(t *testing.T) {
	groups := GroupByCounterparty([]Line{
		line("camera", "Luz & Câmera Ltda.", "", 1000),
		line("catering", "Catering Bom", "cb@example.com", 300),
		line("lente", "LUZ CAMERA LTDA", "NF@Luz.com.br", 500),
		line("taxi", "", "", 80),
	})

	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}

	want := []struct {
		key   string
		ids   []string
		total int64
		email string
	}{
		{"catering bom", []string{"catering"}, 300, "cb@example.com"},
		{"luz camera ltda", []string{"camera", "lente"}, 1500, "nf@luz.com.br"},
		{NoCounterparty, []string{"taxi"}, 80, ""},
	}
	for i, w := range want {
		g := groups[i]
		if g.Key != w.key {
			t.Errorf("group %d key = %q, want %q", i, g.Key, w.key)
		}
		if strings.Join(g.CostItemIDs(), ",") != strings.Join(w.ids, ",") {
			t.Errorf("group %q ids = %v, want %v", g.Key, g.CostItemIDs(), w.ids)
		}
		if !g.Total.Equal(decimal.NewFromInt(w.total)) {
			t.Errorf("group %q total = %s, want %d", g.Key, g.Total, w.total)
		}
		if g.Email != w.email {
			t.Errorf("group %q email = %q, want %q", g.Key, g.Email, w.email)
		}
	}
	if groups[1].Name != "Luz & Câmera Ltda." {
		t.Errorf("group name = %q, want the first name seen", groups[1].Name)
	}
}

func TestRender(t *testing.T) {
	g := GroupByCounterparty([]Line{
		{Item: models.CostItem{ID: "a", Description: "<b>Gaffer</b>", TotalWithOvertime: decimal.NewFromInt(1000),
			Counterparty: models.CounterpartySnapshot{Name: "Luz", Email: "nf@luz.com.br"}}, JobCode: "JOB-001"},
		{Item: models.CostItem{ID: "b", Description: "Lente", TotalWithOvertime: decimal.RequireFromString("250.5"),
			Counterparty: models.CounterpartySnapshot{Name: "Luz"}}},
	})[0]

	msg, err := Render(g, "Produtora Teste", "  Prazo: sexta-feira  ")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if msg.To != "nf@luz.com.br" || strings.Join(msg.CostItemIDs, ",") != "a,b" {
		t.Errorf("to=%q ids=%v", msg.To, msg.CostItemIDs)
	}
	if !strings.Contains(msg.Subject, "Produtora Teste") || !strings.Contains(msg.Subject, "2 itens") {
		t.Errorf("subject = %q", msg.Subject)
	}
	for _, want := range []string{"[JOB-001] <b>Gaffer</b>: R$ 1.000,00", "[-] Lente: R$ 250,50", "Total: R$ 1.250,50", "Prazo: sexta-feira", "Produtora Teste"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text body missing %q:\n%s", want, msg.Text)
		}
	}
	if strings.Contains(msg.HTML, "<b>Gaffer</b>") || !strings.Contains(msg.HTML, "&lt;b&gt;Gaffer&lt;/b&gt;") {
		t.Errorf("html body not escaped:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "R$ 1.250,50") {
		t.Errorf("html body missing total:\n%s", msg.HTML)
	}
}

func TestDispatch_PartialFailure(t *testing.T) {
	f := setupDispatcher(t, "")
	a := f.item(t, "Câmera", 1000, "Luz Câmera", "nf@luz.com.br")
	b1 := f.item(t, "Catering dia 1", 300, "Catering Bom", "cb@example.com")
	b2 := f.item(t, "Catering dia 2", 300, "Catering Bom", "cb@example.com")
	f.sender.fail["cb@example.com"] = true

	res, err := f.dispatcher.Dispatch(context.Background(), actor, []string{a.ID, b1.ID, b2.ID}, "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.SentCount != 1 || res.FailedCount != 1 {
		t.Fatalf("sent=%d failed=%d, want 1 and 1", res.SentCount, res.FailedCount)
	}
	if res.DispatchID == "" || len(res.Groups) != 2 {
		t.Fatalf("result = %+v", res)
	}

	sent := f.costItem(t, a.ID)
	if sent.ItemStatus != models.ItemInvoiceRequested || sent.InvoiceRequestStatus != models.InvoiceRequested {
		t.Errorf("sent item = %s / %s", sent.ItemStatus, sent.InvoiceRequestStatus)
	}
	if sent.InvoiceRequestedBy != actor.UserID || sent.InvoiceRequestedAt == 0 {
		t.Errorf("requested by %q at %d", sent.InvoiceRequestedBy, sent.InvoiceRequestedAt)
	}

	for _, orig := range []*models.CostItem{b1, b2} {
		got := f.costItem(t, orig.ID)
		if got.Version != orig.Version || got.ItemStatus != models.ItemBudgeted || got.InvoiceRequestStatus != models.InvoicePending {
			t.Errorf("failed group item %s changed: v%d %s / %s", orig.ID, got.Version, got.ItemStatus, got.InvoiceRequestStatus)
		}
	}

	outcomes, err := f.store.ListDispatchOutcomes(context.Background(), "t1", res.DispatchID)
	if err != nil {
		t.Fatalf("ListDispatchOutcomes failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("recorded %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Sent == (o.Recipient == "cb@example.com") {
			t.Errorf("outcome for %s sent=%v", o.Recipient, o.Sent)
		}
	}

	entries, err := f.store.ListAudit(context.Background(), "t1", a.ID)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if last := entries[len(entries)-1]; last.Event != models.EventInvoiceRequestDispatched {
		t.Errorf("last audit event = %s", last.Event)
	}
}

func TestDispatch_Idempotent(t *testing.T) {
	f := setupDispatcher(t, "")
	a := f.item(t, "Câmera", 1000, "Luz", "nf@luz.com.br")
	b := f.item(t, "Catering", 300, "Catering", "cb@example.com")
	f.sender.fail["cb@example.com"] = true

	if _, err := f.dispatcher.Dispatch(context.Background(), actor, []string{a.ID, b.ID}, ""); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// The sent item is no longer eligible.
	_, err := f.dispatcher.Dispatch(context.Background(), actor, []string{a.ID, b.ID}, "")
	expectCode(t, err, apperr.CodeBusinessRule)
	if len(f.sender.sent) != 1 {
		t.Errorf("rejected call sent messages: %d", len(f.sender.sent))
	}

	// The failed one can be retried.
	f.sender.fail["cb@example.com"] = false
	res, err := f.dispatcher.Dispatch(context.Background(), actor, []string{b.ID}, "")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.SentCount != 1 || res.FailedCount != 0 {
		t.Errorf("retry sent=%d failed=%d", res.SentCount, res.FailedCount)
	}
	if got := f.costItem(t, b.ID); got.InvoiceRequestStatus != models.InvoiceRequested {
		t.Errorf("retried item = %s", got.InvoiceRequestStatus)
	}
}

func TestDispatch_TimeoutFailsOnlyThatGroup(t *testing.T) {
	f := setupDispatcher(t, "50ms")
	a := f.item(t, "Câmera", 1000, "Luz", "nf@luz.com.br")
	f.sender.block = true

	res, err := f.dispatcher.Dispatch(context.Background(), actor, []string{a.ID}, "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.SentCount != 0 || res.FailedCount != 1 {
		t.Fatalf("sent=%d failed=%d", res.SentCount, res.FailedCount)
	}
	if !strings.Contains(res.Groups[0].Error, "deadline") {
		t.Errorf("error = %q", res.Groups[0].Error)
	}
	if got := f.costItem(t, a.ID); got.Version != a.Version {
		t.Errorf("timed out item changed to v%d", got.Version)
	}
}

func TestDispatch_TimeoutBoundsSenderIgnoringContext(t *testing.T) {
	f := setupDispatcher(t, "50ms")
	a := f.item(t, "Câmera", 1000, "Luz", "nf@luz.com.br")
	f.sender.stall = 2 * time.Second

	start := time.Now()
	res, err := f.dispatcher.Dispatch(context.Background(), actor, []string{a.ID}, "")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Dispatch took %s, want it bounded by the 50ms timeout", elapsed)
	}
	if res.SentCount != 0 || res.FailedCount != 1 {
		t.Fatalf("sent=%d failed=%d", res.SentCount, res.FailedCount)
	}
	if !strings.Contains(res.Groups[0].Error, "deadline") {
		t.Errorf("error = %q", res.Groups[0].Error)
	}
	if got := f.costItem(t, a.ID); got.InvoiceRequestStatus != models.InvoicePending {
		t.Errorf("abandoned item = %s", got.InvoiceRequestStatus)
	}
}

func TestDispatch_GroupWithoutEmailFails(t *testing.T) {
	f := setupDispatcher(t, "")
	a := f.item(t, "Câmera", 1000, "Luz", "")
	b := f.item(t, "Catering", 300, "Catering", "cb@example.com")

	res, err := f.dispatcher.Dispatch(context.Background(), actor, []string{a.ID, b.ID}, "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.SentCount != 1 || res.FailedCount != 1 {
		t.Errorf("sent=%d failed=%d", res.SentCount, res.FailedCount)
	}
	for _, msg := range f.sender.sent {
		if msg.To == "" {
			t.Error("message sent without a recipient")
		}
	}
}

func TestDispatch_Validation(t *testing.T) {
	f := setupDispatcher(t, "")
	ok := f.item(t, "Câmera", 1000, "Luz", "nf@luz.com.br")

	header := &models.CostItem{
		JobID:                f.job.ID,
		ItemNumber:           3,
		Description:          "Equipamento",
		IsCategoryHeader:     true,
		ItemStatus:           models.ItemBudgeted,
		InvoiceRequestStatus: models.InvoiceNotApplicable,
		PaymentStatus:        models.PaymentPending,
	}
	if err := f.ctl.Create(context.Background(), actor, header); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	paid := f.item(t, "Pago", 10, "Luz", "nf@luz.com.br")
	if _, err := f.ctl.Apply(context.Background(), actor, paid.ID, lifecycle.Change{ItemStatus: statusPtr(models.ItemPaid)}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	tooMany := make([]string, MaxItems+1)
	for i := range tooMany {
		tooMany[i] = string(rune('a'+i%26)) + strings.Repeat("x", i)
	}

	tests := []struct {
		name string
		ids  []string
		note string
		code apperr.Code
	}{
		{"no ids", nil, "", apperr.CodeValidation},
		{"blank id", []string{ok.ID, " "}, "", apperr.CodeValidation},
		{"too many", tooMany, "", apperr.CodeValidation},
		{"long note", []string{ok.ID}, strings.Repeat("n", MaxNoteLen+1), apperr.CodeValidation},
		{"unknown id", []string{ok.ID, "missing"}, "", apperr.CodeNotFound},
		{"header", []string{ok.ID, header.ID}, "", apperr.CodeBusinessRule},
		{"paid", []string{paid.ID}, "", apperr.CodeBusinessRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.Dispatch(context.Background(), actor, tt.ids, tt.note)
			expectCode(t, err, tt.code)
		})
	}

	if len(f.sender.sent) != 0 {
		t.Errorf("failed calls sent %d messages", len(f.sender.sent))
	}
	if got := f.costItem(t, ok.ID); got.Version != ok.Version {
		t.Errorf("failed calls changed the eligible item to v%d", got.Version)
	}
}

func TestDispatch_DuplicateIDsSendOnce(t *testing.T) {
	f := setupDispatcher(t, "")
	a := f.item(t, "Câmera", 1000, "Luz", "nf@luz.com.br")

	res, err := f.dispatcher.Dispatch(context.Background(), actor, []string{a.ID, a.ID}, "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.SentCount != 1 || len(res.Groups[0].CostItemIDs) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func statusPtr(s models.ItemStatus) *models.ItemStatus { return &s }

func TestWebhookSender(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		if got.To == "fail@example.com" {
			http.Error(w, "rejected", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	msg := Message{To: "nf@luz.com.br", Subject: "Solicitação", CostItemIDs: []string{"a"}}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.To != msg.To || got.Subject != msg.Subject {
		t.Errorf("endpoint got %+v", got)
	}

	err := s.Send(context.Background(), Message{To: "fail@example.com"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Send = %v, want status 502", err)
	}
}
