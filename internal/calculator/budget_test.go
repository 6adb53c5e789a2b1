package calculator

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/models"
)

func line(itemNumber, sub int, total string, status models.ItemStatus) models.CostItem {
	return models.CostItem{
		ItemNumber:        itemNumber,
		SubItemNumber:     sub,
		IsCategoryHeader:  sub == 0,
		TotalWithOvertime: d(total),
		ItemStatus:        status,
		PaymentStatus:     models.PaymentPending,
	}
}

func TestSummarizeBudget(t *testing.T) {
	header := line(1, 0, "0", models.ItemBudgeted)
	header.Description = "Equipe"

	paidWithValue := line(1, 2, "500", models.ItemPaid)
	paidWithValue.ActualPaidValue = decimal.NewNullDecimal(d("480"))

	items := []models.CostItem{
		header,
		line(1, 1, "1000", models.ItemBudgeted),
		paidWithValue,
		line(2, 1, "300", models.ItemPaid),
		line(2, 2, "700", models.ItemCancelled),
		line(3, 1, "200", models.ItemInvoiceRequested),
	}

	s := SummarizeBudget("job-1", d("2500"), items)

	if !s.TotalEstimated.Equal(d("2000")) {
		t.Errorf("TotalEstimated = %s, want 2000", s.TotalEstimated)
	}
	if !s.TotalPaid.Equal(d("780")) {
		t.Errorf("TotalPaid = %s, want 780", s.TotalPaid)
	}
	if !s.Balance.Equal(d("1220")) {
		t.Errorf("Balance = %s, want 1220", s.Balance)
	}
	if !s.MarginGross.Equal(d("500")) {
		t.Errorf("MarginGross = %s, want 500", s.MarginGross)
	}
	if !s.MarginPct.Equal(d("20")) {
		t.Errorf("MarginPct = %s, want 20", s.MarginPct)
	}

	if len(s.ByCategory) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(s.ByCategory))
	}
	first := s.ByCategory[0]
	if first.ItemName != "Equipe" || first.ItemsTotal != 2 || first.ItemsPaid != 1 {
		t.Errorf("unexpected first category: %+v", first)
	}
	if !first.PctPaid.Equal(d("50")) {
		t.Errorf("PctPaid = %s, want 50", first.PctPaid)
	}
	if s.ByCategory[1].ItemName != "Item 2" {
		t.Errorf("ItemName = %q, want fallback name", s.ByCategory[1].ItemName)
	}

	sum := decimal.Zero
	for _, c := range s.ByCategory {
		sum = sum.Add(c.TotalBudgeted)
	}
	if !sum.Equal(s.TotalEstimated) {
		t.Errorf("sum of categories %s != total estimated %s", sum, s.TotalEstimated)
	}
}

func TestSummarizeBudget_ZeroContract(t *testing.T) {
	s := SummarizeBudget("job-1", decimal.Zero, []models.CostItem{line(1, 1, "100", models.ItemBudgeted)})

	if !s.MarginPct.IsZero() {
		t.Errorf("MarginPct = %s, want 0", s.MarginPct)
	}
	if !s.MarginGross.Equal(d("-100")) {
		t.Errorf("MarginGross = %s, want -100", s.MarginGross)
	}
}

func TestSummarizeBudget_Empty(t *testing.T) {
	s := SummarizeBudget("job-1", d("1000"), nil)
	if !s.TotalEstimated.IsZero() || len(s.ByCategory) != 0 {
		t.Errorf("expected empty summary, got %+v", s)
	}
	if !s.MarginPct.Equal(d("100")) {
		t.Errorf("MarginPct = %s, want 100", s.MarginPct)
	}
}
