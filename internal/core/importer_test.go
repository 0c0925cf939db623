package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps records in memory keyed by natural key. Hooks let tests
// inject failures or block.
type fakeStore struct {
	mu      sync.Mutex
	records map[Scope]map[string]Record
	nextID  int
	upserts []Record

	lookupErr error
	upsertErr func(rec Record) error
	onUpsert  func(ctx context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[Scope]map[string]Record)}
}

func (f *fakeStore) ExistsByNaturalKey(_ context.Context, scope Scope, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return f.records[scope][key].ID, nil
}

func (f *fakeStore) Upsert(ctx context.Context, scope Scope, rec Record) (string, error) {
	if f.onUpsert != nil {
		if err := f.onUpsert(ctx); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		if err := f.upsertErr(rec); err != nil {
			return "", err
		}
	}
	if rec.ID == "" {
		f.nextID++
		rec.ID = fmt.Sprintf("rec-%d", f.nextID)
	}
	if f.records[scope] == nil {
		f.records[scope] = make(map[string]Record)
	}
	key := rec.NaturalKey
	if key == "" {
		key = rec.ID
	}
	f.records[scope][key] = rec
	f.upserts = append(f.upserts, rec)
	return rec.ID, nil
}

func (f *fakeStore) get(scope Scope, key string) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[scope][key]
	return r, ok
}

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

type countingObserver struct {
	mu      sync.Mutex
	actions map[Action]int
	batches []ImportBatchResult
}

func (o *countingObserver) RowCommitted(_ string, a Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.actions == nil {
		o.actions = make(map[Action]int)
	}
	o.actions[a]++
}

func (o *countingObserver) BatchFinished(_ string, r ImportBatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, r)
}

var inventoryScope = Scope{Tenant: "acme", Entity: schema.EntityInventory}

func item(index int, sku, name string) ParsedRow {
	data := map[string]any{"name": name}
	if sku != "" {
		data["sku"] = sku
	}
	return ParsedRow{Index: index, Data: data}
}

func invalid(index int, msg string) ParsedRow {
	return ParsedRow{Index: index, Data: map[string]any{}, Errors: []string{msg}}
}

func TestRunImportBatch_AddsThenUpdates(t *testing.T) {
	store := newFakeStore()
	s := schema.Inventory()
	rows := []ParsedRow{
		item(0, "A1", "Widget"),
		invalid(1, "SKU is required"),
		item(2, "B2", "Gadget"),
	}

	result, err := RunImportBatch(context.Background(), store, inventoryScope, s, rows, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Added)
	assert.Zero(t, result.Updated)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Diagnostic)
	assert.Equal(t, 2, store.upsertCount(), "invalid rows never reach the store")

	first, ok := store.get(inventoryScope, "A1")
	require.True(t, ok)

	rows[0] = item(0, "A1", "Widget v2")
	result, err = RunImportBatch(context.Background(), store, inventoryScope, s, rows, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Zero(t, result.Added)

	again, _ := store.get(inventoryScope, "A1")
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Widget v2", again.Fields["name"])
}

func TestRunImportBatch_ScopesAreIsolated(t *testing.T) {
	store := newFakeStore()
	s := schema.Inventory()
	rows := []ParsedRow{item(0, "A1", "Widget")}

	_, err := RunImportBatch(context.Background(), store, inventoryScope, s, rows, BatchOptions{})
	require.NoError(t, err)

	other := Scope{Tenant: "globex", Entity: schema.EntityInventory}
	result, err := RunImportBatch(context.Background(), store, other, s, rows, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added, "same key under another tenant is a new record")
}

func TestRunImportBatch_DuplicateKeyInFile(t *testing.T) {
	store := newFakeStore()
	rows := []ParsedRow{item(0, "A1", "First"), item(1, "A1", "Second")}

	result, err := RunImportBatch(context.Background(), store, inventoryScope, schema.Inventory(), rows, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Updated)

	rec, _ := store.get(inventoryScope, "A1")
	assert.Equal(t, "Second", rec.Fields["name"])
}

func TestRunImportBatch_FailureIsolation(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = func(rec Record) error {
		if rec.NaturalKey == "B2" {
			return errors.New("duplicate key value violates unique constraint")
		}
		return nil
	}
	rows := []ParsedRow{item(0, "A1", "Widget"), item(1, "B2", "Gadget"), item(2, "C3", "Gizmo")}

	result, err := RunImportBatch(context.Background(), store, inventoryScope, schema.Inventory(), rows, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Processed())
	assert.Empty(t, result.Diagnostic)

	require.Len(t, result.Failures, 1)
	f := result.Failures[0]
	assert.Equal(t, 1, f.Row)
	assert.Equal(t, "B2", f.NaturalKey)
	assert.Equal(t, ActionFailed, f.Action)
	assert.Contains(t, f.Error, "insert")
	assert.Contains(t, f.Error, "unique constraint")
}

func TestRunImportBatch_AccessDeniedDiagnostic(t *testing.T) {
	tests := []struct {
		name    string
		errs    map[string]error
		wantMsg string
	}{
		{
			name: "every row denied",
			errs: map[string]error{
				"A1": errors.New(`permission denied for table inventory`),
				"B2": fmt.Errorf("write: %w", ErrAccessDenied),
			},
			wantMsg: ErrInsufficientPermission.Error(),
		},
		{
			name: "mixed failures",
			errs: map[string]error{
				"A1": errors.New("permission denied for table inventory"),
				"B2": errors.New("connection reset by peer"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.upsertErr = func(rec Record) error { return tt.errs[rec.NaturalKey] }

			rows := []ParsedRow{item(0, "A1", "Widget"), item(1, "B2", "Gadget")}
			result, err := RunImportBatch(context.Background(), store, inventoryScope, schema.Inventory(), rows, BatchOptions{})
			require.NoError(t, err)
			assert.Equal(t, 2, result.Failed)
			assert.Equal(t, tt.wantMsg, result.Diagnostic)
			if tt.wantMsg != "" {
				assert.Empty(t, result.Failures, "the diagnostic replaces per-row failures")
			} else {
				assert.Len(t, result.Failures, 2)
			}
		})
	}
}

func TestRunImportBatch_LookupFailure(t *testing.T) {
	store := newFakeStore()
	store.lookupErr = errors.New("connection refused")

	result, err := RunImportBatch(context.Background(), store, inventoryScope, schema.Inventory(),
		[]ParsedRow{item(0, "A1", "Widget")}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Failures[0].Error, "lookup")
	assert.Zero(t, store.upsertCount())
}

func TestRunImportBatch_Cancellation(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := []ParsedRow{item(0, "A1", "Widget"), item(1, "B2", "Gadget"), item(2, "C3", "Gizmo")}
	opts := BatchOptions{
		OnProgress: func(p Progress) {
			if p.Processed == 1 {
				cancel()
			}
		},
	}

	result, err := RunImportBatch(ctx, store, inventoryScope, schema.Inventory(), rows, opts)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 1, result.Added, "committed rows stay committed")
	assert.Equal(t, 1, result.Processed())
	assert.Empty(t, result.Diagnostic)
	assert.Equal(t, 1, store.upsertCount())
}

func TestRunImportBatch_ProgressAndObserver(t *testing.T) {
	store := newFakeStore()
	obs := &countingObserver{}

	var events []Progress
	rows := []ParsedRow{item(0, "A1", "a"), item(1, "B2", "b"), item(2, "C3", "c"), invalid(3, "bad")}
	result, err := RunImportBatch(context.Background(), store, inventoryScope, schema.Inventory(), rows, BatchOptions{
		ChunkSize:  2,
		OnProgress: func(p Progress) { events = append(events, p) },
		Observer:   obs,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Added)

	require.Len(t, events, 3)
	assert.Equal(t, Progress{Processed: 1, Total: 3, Chunk: 1, Chunks: 2}, events[0])
	assert.Equal(t, Progress{Processed: 3, Total: 3, Chunk: 2, Chunks: 2}, events[2])
	assert.Equal(t, 100, events[2].Percent())

	assert.Equal(t, 3, obs.actions[ActionAdded])
	require.Len(t, obs.batches, 1)
	assert.Equal(t, 3, obs.batches[0].Added)
}

func TestRunImportBatch_NothingValid(t *testing.T) {
	store := newFakeStore()
	result, err := RunImportBatch(context.Background(), store, inventoryScope, schema.Inventory(),
		[]ParsedRow{invalid(0, "SKU is required")}, BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Empty(t, result.Diagnostic)
}

func TestRunImportBatch_NilCollaborators(t *testing.T) {
	_, err := RunImportBatch(context.Background(), nil, inventoryScope, schema.Inventory(), nil, BatchOptions{})
	assert.Error(t, err)

	_, err = RunImportBatch(context.Background(), newFakeStore(), inventoryScope, nil, nil, BatchOptions{})
	assert.Error(t, err)
}

func TestNaturalKeyOf(t *testing.T) {
	inv := schema.Inventory()
	assert.Equal(t, "A1", NaturalKeyOf(inv, item(0, "A1", "x")))
	assert.Equal(t, "", NaturalKeyOf(inv, item(0, "", "x")))
	assert.Equal(t, "1001", NaturalKeyOf(inv, ParsedRow{Data: map[string]any{"sku": 1001.0}}))

	keyless := schema.MustNew(schema.Definition{
		Entity: "notes",
		Label:  "Notes",
		Fields: []schema.Field{{Key: "body", Label: "Body", Type: schema.TypeString}},
	})
	assert.Equal(t, "", NaturalKeyOf(keyless, ParsedRow{Data: map[string]any{"body": "hi"}}))
}
