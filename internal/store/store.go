// Package store wraps the tenant-partitioned relational store. Row-level
// security in the database is driven by the per-transaction tenant scope
// set in WithTenantScope; nothing in this package queries tenant data
// outside such a scope.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 5 * time.Second

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 50
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables this service owns. Chunk rows carry
// tenant_id for the database's row-level-security policies.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			chatbot_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			title TEXT,
			uri TEXT
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT,
			user_id TEXT,
			chatbot_id TEXT,
			stage TEXT,
			decision TEXT,
			reason TEXT,
			rule_ids TEXT[],
			retrieved_chunk_ids TEXT[],
			integrity_fault BOOLEAN,
			latency_ms BIGINT,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_records_tenant ON audit_records(tenant_id, created_at DESC)`)
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}
