// Package calculator holds the pure money arithmetic of the ledger: line
// totals, budget summaries and payment divergence alerts.
package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/models"
)

// PaidDivergenceThreshold is the relative gap between the paid value and the
// computed total above which an alert is raised.
var PaidDivergenceThreshold = decimal.NewFromFloat(0.05)

// Totals are the derived monetary fields of a cost item.
type Totals struct {
	LineTotal         decimal.Decimal
	OvertimeTotal     decimal.Decimal
	TotalWithOvertime decimal.Decimal
}

// ComputeTotals derives line_total = unit_value × quantity,
// overtime_total = overtime_hours × overtime_rate and their sum.
func ComputeTotals(unitValue decimal.Decimal, quantity int, overtimeHours, overtimeRate decimal.Decimal) Totals {
	line := unitValue.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	overtime := overtimeHours.Mul(overtimeRate).Round(2)
	return Totals{
		LineTotal:         line,
		OvertimeTotal:     overtime,
		TotalWithOvertime: line.Add(overtime),
	}
}

// ApplyTotals overwrites the derived fields of item from its inputs.
func ApplyTotals(item *models.CostItem) {
	t := ComputeTotals(item.UnitValue, item.Quantity, item.OvertimeHours, item.OvertimeRate)
	item.LineTotal = t.LineTotal
	item.OvertimeTotal = t.OvertimeTotal
	item.TotalWithOvertime = t.TotalWithOvertime
}

// PaymentAlerts returns the observations for an item whose paid value drifts
// from its computed total. Alerts never block a write.
func PaymentAlerts(item *models.CostItem) []models.Alert {
	if !item.ActualPaidValue.Valid {
		return nil
	}
	paid := item.ActualPaidValue.Decimal
	total := item.TotalWithOvertime

	var divergence decimal.Decimal
	switch {
	case total.IsZero() && paid.IsZero():
		return nil
	case total.IsZero():
		divergence = decimal.NewFromInt(1)
	default:
		divergence = paid.Sub(total).Abs().Div(total)
	}
	if divergence.LessThanOrEqual(PaidDivergenceThreshold) {
		return nil
	}

	return []models.Alert{{
		Code:     "paid_value_divergence",
		Severity: "low",
		Message: fmt.Sprintf("paid value %s differs from total %s by %s%%",
			paid.StringFixed(2), total.StringFixed(2), divergence.Mul(decimal.NewFromInt(100)).StringFixed(1)),
	}}
}
