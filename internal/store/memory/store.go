// Package memory provides an in-process core.Store. It backs tests and the
// STORE_DRIVER=memory mode, where data lives only as long as the process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/core"
)

var _ core.Store = (*Store)(nil)

// StoredRecord is a record as held by the store.
type StoredRecord struct {
	ID         string
	Tenant     string
	Entity     string
	NaturalKey string
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// Store is a mutex-protected map of records.
type Store struct {
	mu      sync.RWMutex
	records map[string]*StoredRecord
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]*StoredRecord),
		now:     time.Now,
	}
}

// ExistsByNaturalKey returns the id of the live record with key in scope.
func (s *Store) ExistsByNaturalKey(ctx context.Context, scope core.Scope, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ArchivedAt == nil && rec.Tenant == scope.Tenant && rec.Entity == scope.Entity && rec.NaturalKey == key {
			return rec.ID, nil
		}
	}
	return "", nil
}

// Upsert inserts rec when rec.ID is empty, otherwise replaces its fields.
// An id that does not name a record in scope is never reused; the record is
// inserted under a fresh id instead.
func (s *Store) Upsert(ctx context.Context, scope core.Scope, rec core.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec.ID != "" {
		existing, ok := s.records[rec.ID]
		if ok && existing.Tenant == scope.Tenant && existing.Entity == scope.Entity {
			existing.NaturalKey = rec.NaturalKey
			existing.Fields = copyFields(rec.Fields)
			existing.UpdatedAt = now
			return existing.ID, nil
		}
	}

	id := uuid.New().String()
	s.records[id] = &StoredRecord{
		ID:         id,
		Tenant:     scope.Tenant,
		Entity:     scope.Entity,
		NaturalKey: rec.NaturalKey,
		Fields:     copyFields(rec.Fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return id, nil
}

// Archive soft-deletes the live record with key in scope. Archived records
// are invisible to ExistsByNaturalKey, so a later import inserts a fresh
// record.
func (s *Store) Archive(ctx context.Context, scope core.Scope, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ArchivedAt == nil && rec.Tenant == scope.Tenant && rec.Entity == scope.Entity && rec.NaturalKey == key {
			now := s.now()
			rec.ArchivedAt = &now
			return true, nil
		}
	}
	return false, nil
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (StoredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return StoredRecord{}, false
	}
	out := *rec
	out.Fields = copyFields(rec.Fields)
	return out, true
}

// List returns copies of the live records in scope.
func (s *Store) List(scope core.Scope) []StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StoredRecord
	for _, rec := range s.records {
		if rec.ArchivedAt == nil && rec.Tenant == scope.Tenant && rec.Entity == scope.Entity {
			cp := *rec
			cp.Fields = copyFields(rec.Fields)
			out = append(out, cp)
		}
	}
	return out
}

// Len returns the number of records, archived ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
