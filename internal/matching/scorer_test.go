package matching

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/internal/models"
)

func newTestScorer() *Scorer {
	return NewScorer(config.Default().Matching)
}

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

var luz = models.CounterpartySnapshot{
	VendorID: "v1",
	Name:     "Luz & Câmera Ltda",
	Email:    "nf@luzcamera.com.br",
	TaxID:    "12.345.678/0001-90",
}

func obligation(amount string) models.Obligation {
	return models.Obligation{
		CostItemID:   "item-1",
		Amount:       decimal.RequireFromString(amount),
		Counterparty: luz,
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func TestScore_WithinToleranceAndTaxID(t *testing.T) {
	s := newTestScorer()

	c := s.Score(models.InvoiceFields{
		IssuerTaxID: "12345678000190",
		Value:       money("4980.00"),
	}, "", obligation("5000.00"))

	if c.AmountScore != 1 || c.CounterpartyScore != 1 {
		t.Errorf("sub-scores = %v / %v, want 1 / 1", c.AmountScore, c.CounterpartyScore)
	}
	if c.DateKnown {
		t.Error("date should be unknown")
	}
	if c.Score < config.Default().Matching.AutoMatchThreshold {
		t.Errorf("score %v below threshold", c.Score)
	}
	if !almost(c.Score, 1) {
		t.Errorf("score = %v, want 1", c.Score)
	}
}

func TestAmountScore(t *testing.T) {
	s := newTestScorer()
	total := decimal.NewFromInt(5000)

	tests := []struct {
		value string
		want  float64
	}{
		{"5000", 1},
		{"5000.80", 1}, // absolute tolerance
		{"4950", 1},    // 1%
		{"4475", 0.5},  // 10.5%, halfway between 1% and 20%
		{"4000", 0},    // 20%
		{"100", 0},
		{"6000", 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := s.amountScore(money(tt.value), total); !almost(got, tt.want) {
				t.Errorf("amountScore(%s) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	if got := s.amountScore(decimal.NullDecimal{}, total); got != 0 {
		t.Errorf("missing value scored %v", got)
	}
}

func TestScore_MonotonicInAmount(t *testing.T) {
	s := newTestScorer()
	ob := obligation("5000")

	prev := -1.0
	for v := int64(3000); v <= 5000; v += 50 {
		c := s.Score(models.InvoiceFields{IssuerName: "Luz Camera", Value: decimal.NewNullDecimal(decimal.NewFromInt(v))}, "", ob)
		if c.Score < prev {
			t.Fatalf("score decreased approaching the total: %v at %d after %v", c.Score, v, prev)
		}
		prev = c.Score
	}

	prev = -1.0
	for v := int64(7000); v >= 5000; v -= 50 {
		c := s.Score(models.InvoiceFields{IssuerName: "Luz Camera", Value: decimal.NewNullDecimal(decimal.NewFromInt(v))}, "", ob)
		if c.Score < prev {
			t.Fatalf("score decreased approaching the total from above: %v at %d after %v", c.Score, v, prev)
		}
		prev = c.Score
	}
}

func TestScore_MonotonicInCounterparty(t *testing.T) {
	s := newTestScorer()
	ob := obligation("5000")

	steps := []struct {
		name   string
		fields models.InvoiceFields
		sender string
		want   float64
	}{
		{"no signal", models.InvoiceFields{IssuerName: "Catering Bom"}, "", 0},
		{"partial name", models.InvoiceFields{IssuerName: "Luz Som"}, "", 0.4},
		{"close name", models.InvoiceFields{IssuerName: "LUZ E CAMERA"}, "", 0.64},
		{"exact name", models.InvoiceFields{IssuerName: "luz câmera"}, "", 0.8},
		{"sender email", models.InvoiceFields{IssuerName: "luz câmera"}, "NF@luzcamera.com.br", 0.9},
		{"tax id", models.InvoiceFields{IssuerName: "luz câmera", IssuerTaxID: "12345678/0001-90"}, "", 1},
	}

	prev := -1.0
	for _, st := range steps {
		st.fields.Value = money("5000")
		c := s.Score(st.fields, st.sender, ob)
		if !almost(c.CounterpartyScore, st.want) {
			t.Errorf("%s: counterparty = %v, want %v", st.name, c.CounterpartyScore, st.want)
		}
		if c.Score < prev {
			t.Errorf("%s: score %v dropped below %v", st.name, c.Score, prev)
		}
		prev = c.Score
	}
}

func TestScore_DateProximity(t *testing.T) {
	s := newTestScorer()
	ob := obligation("5000")
	ob.ReferenceDate = "2026-05-10"
	fields := models.InvoiceFields{IssuerTaxID: "12345678000190", Value: money("5000")}

	tests := []struct {
		issue     string
		wantDate  float64
		wantScore float64
		known     bool
	}{
		{"2026-05-10", 1, 1, true},
		{"2026-06-24", 0.5, 0.925, true},
		{"2026-12-31", 0, 0.85, true},
		{"", 0, 1, false},
		{"not-a-date", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.issue, func(t *testing.T) {
			f := fields
			f.IssueDate = tt.issue
			c := s.Score(f, "", ob)
			if c.DateKnown != tt.known || !almost(c.DateScore, tt.wantDate) || !almost(c.Score, tt.wantScore) {
				t.Errorf("date=%v known=%v score=%v, want %v %v %v", c.DateScore, c.DateKnown, c.Score, tt.wantDate, tt.known, tt.wantScore)
			}
		})
	}
}
