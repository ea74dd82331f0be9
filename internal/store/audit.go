package store

import (
	"context"
	"time"

	"github.com/ragworks/raggate/internal/model"
)

// InsertAudit persists one audit record. Records are already scrubbed at
// construction time; this layer stores them verbatim.
func (s *Store) InsertAudit(ctx context.Context, rec *model.AuditRecord) error {
	if rec == nil {
		return nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_records (
			id, tenant_id, user_id, chatbot_id, stage, decision, reason,
			rule_ids, retrieved_chunk_ids, integrity_fault, latency_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.TenantID, rec.UserID, rec.ChatbotID, string(rec.Stage), rec.Decision, rec.Reason,
		rec.RuleIDs, rec.RetrievedChunkIDs, rec.IntegrityFault, rec.LatencyMs, rec.CreatedAt)
	return err
}

// ListAudit returns the most recent records, optionally filtered by
// tenant.
func (s *Store) ListAudit(ctx context.Context, tenantID string, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, tenant_id, user_id, chatbot_id, stage, decision, reason,
		       rule_ids, retrieved_chunk_ids, integrity_fault, latency_ms, created_at
		FROM audit_records`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, tenantID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.AuditRecord, 0, limit)
	for rows.Next() {
		var rec model.AuditRecord
		var stage string
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.UserID, &rec.ChatbotID, &stage,
			&rec.Decision, &rec.Reason, &rec.RuleIDs, &rec.RetrievedChunkIDs,
			&rec.IntegrityFault, &rec.LatencyMs, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Stage = model.PipelineStage(stage)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CleanupAudit removes records older than the retention window.
func (s *Store) CleanupAudit(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	return err
}
