package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithTenantScope runs fn inside a transaction whose session tenant scope
// is set for the database's row-level-security policies. The scope is set
// with set_config(..., is_local=true), so it is bound to the transaction
// and released on every exit path, commit, rollback, or cancellation; a
// later request reusing the same pooled connection can never inherit it.
func (s *Store) WithTenantScope(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	if tenantID == "" {
		return fmt.Errorf("tenant scope requires a tenant id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scoped tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID); err != nil {
		return fmt.Errorf("set tenant scope: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
