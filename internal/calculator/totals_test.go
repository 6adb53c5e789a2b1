package calculator

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name          string
		unitValue     string
		quantity      int
		overtimeHours string
		overtimeRate  string
		wantLine      string
		wantOvertime  string
		wantTotal     string
	}{
		{
			name:          "no overtime",
			unitValue:     "1000",
			quantity:      2,
			overtimeHours: "0",
			overtimeRate:  "0",
			wantLine:      "2000",
			wantOvertime:  "0",
			wantTotal:     "2000",
		},
		{
			name:          "with overtime",
			unitValue:     "850.50",
			quantity:      3,
			overtimeHours: "2.5",
			overtimeRate:  "120",
			wantLine:      "2551.50",
			wantOvertime:  "300",
			wantTotal:     "2851.50",
		},
		{
			name:          "zero quantity header",
			unitValue:     "0",
			quantity:      0,
			overtimeHours: "0",
			overtimeRate:  "0",
			wantLine:      "0",
			wantOvertime:  "0",
			wantTotal:     "0",
		},
		{
			name:          "fractional cents are rounded",
			unitValue:     "33.333",
			quantity:      3,
			overtimeHours: "1.333",
			overtimeRate:  "10",
			wantLine:      "100",
			wantOvertime:  "13.33",
			wantTotal:     "113.33",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(d(tt.unitValue), tt.quantity, d(tt.overtimeHours), d(tt.overtimeRate))
			if !got.LineTotal.Equal(d(tt.wantLine)) {
				t.Errorf("LineTotal = %s, want %s", got.LineTotal, tt.wantLine)
			}
			if !got.OvertimeTotal.Equal(d(tt.wantOvertime)) {
				t.Errorf("OvertimeTotal = %s, want %s", got.OvertimeTotal, tt.wantOvertime)
			}
			if !got.TotalWithOvertime.Equal(d(tt.wantTotal)) {
				t.Errorf("TotalWithOvertime = %s, want %s", got.TotalWithOvertime, tt.wantTotal)
			}
		})
	}
}

func TestApplyTotals_OverwritesHandEditedValues(t *testing.T) {
	item := &models.CostItem{
		UnitValue:         d("1000"),
		Quantity:          2,
		TotalWithOvertime: d("999999"),
		LineTotal:         d("1"),
	}
	ApplyTotals(item)

	if !item.LineTotal.Equal(d("2000")) || !item.TotalWithOvertime.Equal(d("2000")) {
		t.Errorf("totals not recomputed: line=%s total=%s", item.LineTotal, item.TotalWithOvertime)
	}
}

func TestPaymentAlerts(t *testing.T) {
	tests := []struct {
		name      string
		total     string
		paid      *string
		wantAlert bool
	}{
		{"no paid value", "1000", nil, false},
		{"exact", "1000", ptr("1000"), false},
		{"within five percent", "1000", ptr("1049.99"), false},
		{"exactly five percent", "1000", ptr("950"), false},
		{"above five percent", "1000", ptr("1060"), true},
		{"below five percent", "1000", ptr("900"), true},
		{"paid against zero total", "0", ptr("10"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &models.CostItem{TotalWithOvertime: d(tt.total)}
			if tt.paid != nil {
				item.ActualPaidValue = decimal.NewNullDecimal(d(*tt.paid))
			}
			alerts := PaymentAlerts(item)
			if got := len(alerts) > 0; got != tt.wantAlert {
				t.Fatalf("alert = %v, want %v (%v)", got, tt.wantAlert, alerts)
			}
			if tt.wantAlert && alerts[0].Severity != "low" {
				t.Errorf("Severity = %q, want low", alerts[0].Severity)
			}
		})
	}
}

func ptr(s string) *string { return &s }
