package models

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Supported report locales.
const (
	LocalePtBR = "pt-BR"
	LocaleEn   = "en"
)

var labels = map[string]map[string]string{
	LocalePtBR: {
		string(ItemBudgeted):         "Orçado",
		string(ItemAwaitingInvoice):  "Aguardando NF",
		string(ItemInvoiceRequested): "NF Pedida",
		string(ItemInvoiceReceived):  "NF Recebida",
		string(ItemInvoiceApproved):  "NF Aprovada",
		string(ItemPaid):             "Pago",
		string(ItemCancelled):        "Cancelado",

		"invoice." + string(InvoiceNotApplicable): "N/A",
		"invoice." + string(InvoicePending):       "Pendente",
		"invoice." + string(InvoiceRequested):     "Pedido",
		"invoice." + string(InvoiceReceived):      "Recebido",
		"invoice." + string(InvoiceRejected):      "Rejeitado",
		"invoice." + string(InvoiceApproved):      "Aprovado",

		"payment." + string(PaymentPending):   "Pendente",
		"payment." + string(PaymentPaid):      "Pago",
		"payment." + string(PaymentCancelled): "Cancelado",

		"condition." + string(ConditionCash):        "À vista",
		"condition." + string(ConditionNet30):       "30 dias",
		"condition." + string(ConditionNet40):       "40 dias",
		"condition." + string(ConditionNet45):       "45 dias",
		"condition." + string(ConditionNet60):       "60 dias",
		"condition." + string(ConditionNet90):       "90 dias",
		"condition." + string(ConditionNoInvoice30): "30 dias sem NF",

		"method." + string(MethodPix):    "PIX",
		"method." + string(MethodWire):   "TED",
		"method." + string(MethodCash):   "Dinheiro",
		"method." + string(MethodDebit):  "Débito",
		"method." + string(MethodCredit): "Crédito",
		"method." + string(MethodOther):  "Outro",
	},
	LocaleEn: {
		string(ItemBudgeted):         "Budgeted",
		string(ItemAwaitingInvoice):  "Awaiting invoice",
		string(ItemInvoiceRequested): "Invoice requested",
		string(ItemInvoiceReceived):  "Invoice received",
		string(ItemInvoiceApproved):  "Invoice approved",
		string(ItemPaid):             "Paid",
		string(ItemCancelled):        "Cancelled",

		"invoice." + string(InvoiceNotApplicable): "N/A",
		"invoice." + string(InvoicePending):       "Pending",
		"invoice." + string(InvoiceRequested):     "Requested",
		"invoice." + string(InvoiceReceived):      "Received",
		"invoice." + string(InvoiceRejected):      "Rejected",
		"invoice." + string(InvoiceApproved):      "Approved",

		"payment." + string(PaymentPending):   "Pending",
		"payment." + string(PaymentPaid):      "Paid",
		"payment." + string(PaymentCancelled): "Cancelled",

		"condition." + string(ConditionCash):        "Cash",
		"condition." + string(ConditionNet30):       "Net 30",
		"condition." + string(ConditionNet40):       "Net 40",
		"condition." + string(ConditionNet45):       "Net 45",
		"condition." + string(ConditionNet60):       "Net 60",
		"condition." + string(ConditionNet90):       "Net 90",
		"condition." + string(ConditionNoInvoice30): "Net 30, no invoice",

		"method." + string(MethodPix):    "PIX",
		"method." + string(MethodWire):   "Wire transfer",
		"method." + string(MethodCash):   "Cash",
		"method." + string(MethodDebit):  "Debit",
		"method." + string(MethodCredit): "Credit",
		"method." + string(MethodOther):  "Other",
	},
}

// NormalizeLocale maps a requested locale onto a supported one, defaulting to
// pt-BR.
func NormalizeLocale(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "en") {
		return LocaleEn
	}
	return LocalePtBR
}

func label(locale, key string) string {
	if key == "" || strings.HasSuffix(key, ".") {
		return ""
	}
	if l, ok := labels[NormalizeLocale(locale)][key]; ok {
		return l
	}
	return key[strings.LastIndex(key, ".")+1:]
}

func (s ItemStatus) Label(locale string) string { return label(locale, string(s)) }

func (s InvoiceRequestStatus) Label(locale string) string {
	return label(locale, "invoice."+string(s))
}

func (s PaymentStatus) Label(locale string) string {
	return label(locale, "payment."+string(s))
}

func (c PaymentCondition) Label(locale string) string {
	return label(locale, "condition."+string(c))
}

func (m PaymentMethod) Label(locale string) string {
	return label(locale, "method."+string(m))
}

// FormatMoney renders an amount with the locale's grouping and decimal marks,
// e.g. "R$ 1.234,56" for pt-BR.
func FormatMoney(locale string, d decimal.Decimal) string {
	tag := language.BrazilianPortuguese
	if NormalizeLocale(locale) == LocaleEn {
		tag = language.AmericanEnglish
	}
	p := message.NewPrinter(tag)
	return "R$ " + p.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// FormatNumber renders an amount without the currency prefix.
func FormatNumber(locale string, d decimal.Decimal) string {
	tag := language.BrazilianPortuguese
	if NormalizeLocale(locale) == LocaleEn {
		tag = language.AmericanEnglish
	}
	return message.NewPrinter(tag).Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// FormatOptionalMoney renders an optional amount, or "" when unset.
func FormatOptionalMoney(locale string, d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return FormatMoney(locale, d.Decimal)
}
