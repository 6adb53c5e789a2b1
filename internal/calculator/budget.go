package calculator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/models"
)

// CategorySummary aggregates the lines of one category number.
type CategorySummary struct {
	ItemNumber    int             `json:"item_number"`
	ItemName      string          `json:"item_name"`
	TotalBudgeted decimal.Decimal `json:"total_budgeted"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	ItemsTotal    int             `json:"items_total"`
	ItemsPaid     int             `json:"items_paid"`
	PctPaid       decimal.Decimal `json:"pct_paid"`
}

// BudgetSummary is the financial position of one job.
type BudgetSummary struct {
	JobID           string            `json:"job_id"`
	ContractedValue decimal.Decimal   `json:"contracted_value"`
	TotalEstimated  decimal.Decimal   `json:"total_estimated"`
	TotalPaid       decimal.Decimal   `json:"total_paid"`
	Balance         decimal.Decimal   `json:"balance"`
	MarginGross     decimal.Decimal   `json:"margin_gross"`
	MarginPct       decimal.Decimal   `json:"margin_pct"`
	ByCategory      []CategorySummary `json:"by_category"`
}

var hundred = decimal.NewFromInt(100)

// SummarizeBudget aggregates every non-cancelled line of a job.
//
// Header lines contribute only their description as the category name. Paid
// lines count their actual paid value, falling back to total_with_overtime
// when none was recorded. margin_pct is a percentage rounded to two decimals
// and is zero when the contracted value is zero.
func SummarizeBudget(jobID string, contracted decimal.Decimal, items []models.CostItem) BudgetSummary {
	cats := make(map[int]*CategorySummary)
	category := func(n int) *CategorySummary {
		c, ok := cats[n]
		if !ok {
			c = &CategorySummary{ItemNumber: n}
			cats[n] = c
		}
		return c
	}

	s := BudgetSummary{JobID: jobID, ContractedValue: contracted}
	for i := range items {
		item := &items[i]
		if item.ItemStatus == models.ItemCancelled || item.DeletedAt != 0 {
			continue
		}
		c := category(item.ItemNumber)
		if item.IsCategoryHeader {
			c.ItemName = item.Description
			continue
		}

		c.TotalBudgeted = c.TotalBudgeted.Add(item.TotalWithOvertime)
		c.ItemsTotal++
		s.TotalEstimated = s.TotalEstimated.Add(item.TotalWithOvertime)

		if item.ItemStatus == models.ItemPaid || item.PaymentStatus == models.PaymentPaid {
			paid := item.TotalWithOvertime
			if item.ActualPaidValue.Valid {
				paid = item.ActualPaidValue.Decimal
			}
			c.TotalPaid = c.TotalPaid.Add(paid)
			c.ItemsPaid++
			s.TotalPaid = s.TotalPaid.Add(paid)
		}
	}

	s.Balance = s.TotalEstimated.Sub(s.TotalPaid)
	s.MarginGross = contracted.Sub(s.TotalEstimated)
	s.MarginPct = decimal.Zero
	if !contracted.IsZero() {
		s.MarginPct = s.MarginGross.Div(contracted).Mul(hundred).Round(2)
	}

	s.ByCategory = make([]CategorySummary, 0, len(cats))
	for _, c := range cats {
		if c.ItemName == "" {
			c.ItemName = fmt.Sprintf("Item %d", c.ItemNumber)
		}
		if c.ItemsTotal > 0 {
			c.PctPaid = decimal.NewFromInt(int64(c.ItemsPaid)).Div(decimal.NewFromInt(int64(c.ItemsTotal))).Mul(hundred).Round(2)
		}
		s.ByCategory = append(s.ByCategory, *c)
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		return s.ByCategory[i].ItemNumber < s.ByCategory[j].ItemNumber
	})
	return s
}
