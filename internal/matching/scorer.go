// Package matching pairs inbound invoice documents with the cost items still
// waiting for an invoice, applies reviewer decisions, and runs the queue
// consumers that match documents after ingestion.
package matching

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/internal/models"
	"github.com/mmynk/payables/internal/normalize"
)

// Scorer computes the confidence that an invoice settles an obligation.
type Scorer struct {
	cfg config.MatchingConfig
}

// NewScorer creates a Scorer from validated configuration.
func NewScorer(cfg config.MatchingConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score rates one obligation against the invoice fields and the sender
// address of the document that carried them.
func (s *Scorer) Score(fields models.InvoiceFields, senderEmail string, ob models.Obligation) models.MatchCandidate {
	c := models.MatchCandidate{
		CostItemID:        ob.CostItemID,
		AmountScore:       s.amountScore(fields.Value, ob.Amount),
		CounterpartyScore: s.counterpartyScore(fields, senderEmail, ob.Counterparty),
	}
	c.DateScore, c.DateKnown = s.dateScore(fields.IssueDate, ob.ReferenceDate)

	wa, wc, wd := s.cfg.WeightAmount, s.cfg.WeightCounterparty, s.cfg.WeightDate
	if c.DateKnown {
		c.Score = wa*c.AmountScore + wc*c.CounterpartyScore + wd*c.DateScore
	} else {
		// An unknown date neither helps nor hurts.
		c.Score = (wa*c.AmountScore + wc*c.CounterpartyScore) / (wa + wc)
	}
	c.Score = round4(c.Score)
	return c
}

// amountScore is 1 within tolerance and decays linearly to 0 at the maximum
// divergence.
func (s *Scorer) amountScore(value decimal.NullDecimal, total decimal.Decimal) float64 {
	if !value.Valid {
		return 0
	}
	diff := value.Decimal.Sub(total).Abs().InexactFloat64()
	if diff <= s.cfg.AmountToleranceAbs {
		return 1
	}
	t := total.Abs().InexactFloat64()
	if t == 0 {
		return 0
	}

	rel := diff / t
	switch {
	case rel <= s.cfg.AmountTolerancePct:
		return 1
	case rel >= s.cfg.AmountMaxDivergencePct:
		return 0
	}
	span := s.cfg.AmountMaxDivergencePct - s.cfg.AmountTolerancePct
	return round4(1 - (rel-s.cfg.AmountTolerancePct)/span)
}

// counterpartyScore takes the strongest identity signal: tax id, then the
// sender address, then the issuer name.
func (s *Scorer) counterpartyScore(fields models.InvoiceFields, senderEmail string, cp models.CounterpartySnapshot) float64 {
	if tax := normalize.Digits(fields.IssuerTaxID); tax != "" && tax == normalize.Digits(cp.TaxID) {
		return 1
	}

	best := 0.0
	if email := normalize.Email(senderEmail); email != "" && email == normalize.Email(cp.Email) {
		best = s.cfg.EmailMatchScore
	}
	if name := normalize.Similarity(fields.IssuerName, cp.Name) * s.cfg.NameMatchCeiling; name > best {
		best = name
	}
	return round4(best)
}

// dateScore decays linearly from 1 on the reference date to 0 at the
// horizon. known is false when either date is missing.
func (s *Scorer) dateScore(issueDate, referenceDate string) (score float64, known bool) {
	if issueDate == "" || referenceDate == "" {
		return 0, false
	}
	issued, err := time.Parse(time.DateOnly, issueDate)
	if err != nil {
		return 0, false
	}
	ref, err := time.Parse(time.DateOnly, referenceDate)
	if err != nil {
		return 0, false
	}

	days := math.Abs(issued.Sub(ref).Hours() / 24)
	horizon := float64(s.cfg.DateHorizonDays)
	if horizon <= 0 || days >= horizon {
		return 0, true
	}
	return round4(1 - days/horizon), true
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
