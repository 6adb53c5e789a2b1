package matching

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/models"
)

// DocumentStats counts a tenant's documents per status. The month counts
// cover documents reviewed since the first day of the current UTC month.
type DocumentStats struct {
	Processing     int `json:"processing"`
	PendingReview  int `json:"pending_review"`
	AutoMatched    int `json:"auto_matched"`
	Confirmed      int `json:"confirmed"`
	Rejected       int `json:"rejected"`
	ConfirmedMonth int `json:"confirmed_month"`
	RejectedMonth  int `json:"rejected_month"`
	Total          int `json:"total"`
}

// Stats returns the document counts of the actor's tenant.
func (e *Engine) Stats(ctx context.Context, actor auth.Principal) (*DocumentStats, error) {
	all, err := e.store.CountInvoiceDocuments(ctx, actor.TenantID, 0)
	if err != nil {
		slog.Error("CountInvoiceDocuments failed", "error", err, "tenant_id", actor.TenantID)
		return nil, apperr.Internal(err)
	}

	now := e.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	month, err := e.store.CountInvoiceDocuments(ctx, actor.TenantID, monthStart.Unix())
	if err != nil {
		slog.Error("CountInvoiceDocuments failed", "error", err, "tenant_id", actor.TenantID, "since", monthStart)
		return nil, apperr.Internal(err)
	}

	stats := &DocumentStats{
		Processing:     all[models.DocumentProcessing],
		PendingReview:  all[models.DocumentPendingReview],
		AutoMatched:    all[models.DocumentAutoMatched],
		Confirmed:      all[models.DocumentConfirmed],
		Rejected:       all[models.DocumentRejected],
		ConfirmedMonth: month[models.DocumentConfirmed],
		RejectedMonth:  month[models.DocumentRejected],
	}
	for _, n := range all {
		stats.Total += n
	}
	return stats, nil
}
