package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/payables/internal/models"
)

func nullJSON(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

// AppendAudit persists one audit entry.
func (r *repo) AppendAudit(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = now()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO audit_entries (id, tenant_id, job_id, cost_item_id, event, actor_id, description, before_json, after_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.JobID, e.CostItemID, e.Event, e.ActorID, e.Description,
		nullJSON(e.Before), nullJSON(e.After), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the history of one cost item, oldest first.
func (r *repo) ListAudit(ctx context.Context, tenantID, costItemID string) ([]models.AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, tenant_id, job_id, cost_item_id, event, actor_id, description, before_json, after_json, created_at
		 FROM audit_entries WHERE tenant_id = ? AND cost_item_id = ?
		 ORDER BY created_at, rowid`,
		tenantID, costItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.JobID, &e.CostItemID, &e.Event, &e.ActorID, &e.Description,
			&before, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if before.Valid {
			e.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			e.After = json.RawMessage(after.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// RecordDispatchOutcome persists the result of one dispatch group.
func (r *repo) RecordDispatchOutcome(ctx context.Context, o *models.DispatchOutcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt == 0 {
		o.CreatedAt = now()
	}
	ids, err := json.Marshal(o.CostItemIDs)
	if err != nil {
		return fmt.Errorf("failed to encode cost item ids: %w", err)
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO dispatch_outcomes (id, tenant_id, dispatch_id, group_key, recipient, cost_item_ids, total, sent, error, actor_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.TenantID, o.DispatchID, o.GroupKey, o.Recipient, string(ids), o.Total, boolInt(o.Sent), o.Error, o.ActorID, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch outcome: %w", err)
	}
	return nil
}

// ListDispatchOutcomes returns the group outcomes of one dispatch call.
func (r *repo) ListDispatchOutcomes(ctx context.Context, tenantID, dispatchID string) ([]models.DispatchOutcome, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, tenant_id, dispatch_id, group_key, recipient, cost_item_ids, total, sent, error, actor_id, created_at
		 FROM dispatch_outcomes WHERE tenant_id = ? AND dispatch_id = ?
		 ORDER BY group_key`,
		tenantID, dispatchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.DispatchOutcome
	for rows.Next() {
		var o models.DispatchOutcome
		var ids string
		if err := rows.Scan(&o.ID, &o.TenantID, &o.DispatchID, &o.GroupKey, &o.Recipient, &ids, &o.Total,
			&o.Sent, &o.Error, &o.ActorID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch outcome: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &o.CostItemIDs); err != nil {
			return nil, fmt.Errorf("failed to decode cost item ids: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dispatch outcomes: %w", err)
	}
	return outcomes, nil
}
