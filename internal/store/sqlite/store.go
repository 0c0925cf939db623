// Package sqlite provides a core.Store on a local SQLite file using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/core"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ core.Store = (*Store)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	tenant      TEXT NOT NULL,
	entity      TEXT NOT NULL,
	natural_key TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	archived_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS records_live_natural_key
	ON records (tenant, entity, natural_key)
	WHERE archived_at IS NULL AND natural_key <> '';
`

// Store keeps records in a single table with the field values as JSON.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "tabimport.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA busy_timeout = 5000`,
		schemaDDL,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ExistsByNaturalKey returns the id of the live record with key in scope.
func (s *Store) ExistsByNaturalKey(ctx context.Context, scope core.Scope, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM records
		WHERE tenant = ? AND entity = ? AND natural_key = ? AND archived_at IS NULL
		LIMIT 1`,
		scope.Tenant, scope.Entity, key,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select record: %w", err)
	}
	return id, nil
}

// Upsert replaces the fields of the record rec.ID names in scope. Otherwise
// rec is inserted under a fresh id.
func (s *Store) Upsert(ctx context.Context, scope core.Scope, rec core.Record) (string, error) {
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	if rec.ID != "" {
		res, err := s.db.ExecContext(ctx, `
			UPDATE records SET natural_key = ?, data = ?, updated_at = ?
			WHERE id = ? AND tenant = ? AND entity = ?`,
			rec.NaturalKey, string(data), now, rec.ID, scope.Tenant, scope.Entity,
		)
		if err != nil {
			return "", fmt.Errorf("update record: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return rec.ID, nil
		}
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, tenant, entity, natural_key, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, scope.Tenant, scope.Entity, rec.NaturalKey, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// Archive soft-deletes the live record with key in scope. It reports
// whether a record was archived.
func (s *Store) Archive(ctx context.Context, scope core.Scope, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET archived_at = ?
		WHERE tenant = ? AND entity = ? AND natural_key = ? AND archived_at IS NULL`,
		s.now().UTC().Format(time.RFC3339Nano), scope.Tenant, scope.Entity, key,
	)
	if err != nil {
		return false, fmt.Errorf("archive record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Fields returns the stored field values of the record with id.
func (s *Store) Fields(ctx context.Context, id string) (map[string]any, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("select record %s: %w", id, err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// Count returns the number of live records in scope.
func (s *Store) Count(ctx context.Context, scope core.Scope) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records
		WHERE tenant = ? AND entity = ? AND archived_at IS NULL`,
		scope.Tenant, scope.Entity,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
