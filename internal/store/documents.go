package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ragworks/raggate/internal/model"
)

// HydrateSources looks up citation metadata for retrieved chunk ids. The
// query runs under the tenant scope, so even a bad id list cannot read
// another tenant's rows.
func (s *Store) HydrateSources(ctx context.Context, tenantID string, chunkIDs []string) (map[string]model.ChunkSource, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	sources := make(map[string]model.ChunkSource, len(chunkIDs))
	err := s.WithTenantScope(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, document_id, COALESCE(title, ''), COALESCE(uri, '')
			FROM document_chunks
			WHERE tenant_id = $1 AND id = ANY($2)
		`, tenantID, chunkIDs)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var src model.ChunkSource
			if err := rows.Scan(&id, &src.DocumentID, &src.Title, &src.URI); err != nil {
				return err
			}
			sources[id] = src
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}
