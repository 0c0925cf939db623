// Package postgres provides a core.Store on PostgreSQL using a pgx
// connection pool.
//
// Every statement runs in a transaction that first sets the
// app.tenant_id setting, so row-level security policies can restrict a
// session to its tenant. Permission failures (SQLSTATE 42501, which also
// covers row-level security violations) are reported as
// core.ErrAccessDenied.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tabimport/internal/core"
)

var _ core.Store = (*Store)(nil)

// SQLSTATE insufficient_privilege.
const codeInsufficientPrivilege = "42501"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	id          UUID PRIMARY KEY,
	tenant      TEXT NOT NULL,
	entity      TEXT NOT NULL,
	natural_key TEXT NOT NULL DEFAULT '',
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	archived_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS records_live_natural_key
	ON records (tenant, entity, natural_key)
	WHERE archived_at IS NULL AND natural_key <> '';
`

// PoolConfig sizes the connection pool. Zero values keep pgx defaults.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store keeps records in the records table with field values as JSONB.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url, verifies the connection and returns a Store.
// Call Migrate to create the table.
func Open(ctx context.Context, url string, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the records table and its index if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", classify(err))
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ExistsByNaturalKey returns the id of the live record with key in scope.
func (s *Store) ExistsByNaturalKey(ctx context.Context, scope core.Scope, key string) (string, error) {
	var id string
	err := s.inTenant(ctx, scope.Tenant, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id::text FROM records
			WHERE tenant = $1 AND entity = $2 AND natural_key = $3 AND archived_at IS NULL
			LIMIT 1`,
			scope.Tenant, scope.Entity, key,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("select record: %w", err)
	}
	return id, nil
}

// Upsert replaces the fields of the record rec.ID names in scope. Otherwise
// rec is inserted under a fresh id.
func (s *Store) Upsert(ctx context.Context, scope core.Scope, rec core.Record) (string, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	id := rec.ID
	err := s.inTenant(ctx, scope.Tenant, func(tx pgx.Tx) error {
		if id != "" {
			tag, err := tx.Exec(ctx, `
				UPDATE records SET natural_key = $1, data = $2, updated_at = now()
				WHERE id = $3 AND tenant = $4 AND entity = $5`,
				rec.NaturalKey, fields, id, scope.Tenant, scope.Entity,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() > 0 {
				return nil
			}
		}
		id = uuid.New().String()

		_, err := tx.Exec(ctx, `
			INSERT INTO records (id, tenant, entity, natural_key, data)
			VALUES ($1, $2, $3, $4, $5)`,
			id, scope.Tenant, scope.Entity, rec.NaturalKey, fields,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("upsert record: %w", err)
	}
	return id, nil
}

// Archive soft-deletes the live record with key in scope.
func (s *Store) Archive(ctx context.Context, scope core.Scope, key string) (bool, error) {
	var archived bool
	err := s.inTenant(ctx, scope.Tenant, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE records SET archived_at = now()
			WHERE tenant = $1 AND entity = $2 AND natural_key = $3 AND archived_at IS NULL`,
			scope.Tenant, scope.Entity, key,
		)
		archived = tag.RowsAffected() > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("archive record: %w", err)
	}
	return archived, nil
}

// inTenant runs fn in a transaction with app.tenant_id set to tenant.
func (s *Store) inTenant(ctx context.Context, tenant string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenant); err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// classify wraps permission failures in core.ErrAccessDenied.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeInsufficientPrivilege {
		return fmt.Errorf("%w: %s", core.ErrAccessDenied, pgErr.Message)
	}
	return err
}
