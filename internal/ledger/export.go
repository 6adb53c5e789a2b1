package ledger

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/report"
)

var exportColumns = map[string][]string{
	models.LocalePtBR: {
		"Item", "Sub-Item", "Descrição", "Fornecedor", "Valor Unit.", "Qtd", "Total",
		"HE Horas", "HE Taxa", "HE Valor", "Total+HE", "Condição Pgto", "Vencimento",
		"Status", "Status NF", "Status Pgto", "Valor Pago", "Data Pgto",
	},
	models.LocaleEn: {
		"Item", "Sub-item", "Description", "Vendor", "Unit value", "Qty", "Total",
		"OT hours", "OT rate", "OT value", "Total+OT", "Payment terms", "Due date",
		"Status", "Invoice status", "Payment status", "Paid value", "Payment date",
	},
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Export projects every live line of a job onto a localized table.
func (s *Service) Export(ctx context.Context, actor auth.Principal, jobID, locale string) (*report.Table, error) {
	locale = models.NormalizeLocale(locale)
	job, items, err := s.jobItems(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}

	code := job.Code
	if code == "" {
		code = job.ID
	}
	t := &report.Table{
		Title:   code + " " + job.Title,
		Name:    "custos_" + unsafeFileChars.ReplaceAllString(code, "_") + "_" + s.now().Format("20060102"),
		Columns: exportColumns[locale],
		Rows:    make([][]string, 0, len(items)),
	}
	if locale == models.LocalePtBR {
		t.Comma = ';'
	}

	for i := range items {
		t.Rows = append(t.Rows, exportRow(locale, &items[i]))
	}
	return t, nil
}

func exportRow(locale string, item *models.CostItem) []string {
	money := func(d decimal.Decimal) string {
		if item.IsCategoryHeader {
			return ""
		}
		return models.FormatMoney(locale, d)
	}
	return []string{
		strconv.Itoa(item.ItemNumber),
		strconv.Itoa(item.SubItemNumber),
		item.Description,
		item.Counterparty.Name,
		money(item.UnitValue),
		strconv.Itoa(item.Quantity),
		money(item.LineTotal),
		hours(locale, item),
		money(item.OvertimeRate),
		money(item.OvertimeTotal),
		money(item.TotalWithOvertime),
		item.PaymentCondition.Label(locale),
		formatDate(locale, item.DueDate),
		item.ItemStatus.Label(locale),
		item.InvoiceRequestStatus.Label(locale),
		item.PaymentStatus.Label(locale),
		models.FormatOptionalMoney(locale, item.ActualPaidValue),
		formatDate(locale, item.PaymentDate),
	}
}

func hours(locale string, item *models.CostItem) string {
	if item.IsCategoryHeader {
		return ""
	}
	return models.FormatNumber(locale, item.OvertimeHours)
}

// formatDate renders YYYY-MM-DD as DD/MM/YYYY for pt-BR.
func formatDate(locale, value string) string {
	if value == "" || locale != models.LocalePtBR {
		return value
	}
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return value
	}
	return d.Format("02/01/2006")
}
