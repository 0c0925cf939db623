package core

// importer.go commits validated rows to a Store.
//
// Rows are committed strictly one at a time, chunk after chunk. The
// natural-key lookup followed by the upsert is not atomic, so two rows
// sharing a key must never be in flight together. A failing row is
// recorded and the batch moves on. Cancelling the context stops the batch
// between rows; rows already committed stay committed.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// DefaultChunkSize is the number of rows per progress chunk.
const DefaultChunkSize = 50

// BatchOptions configures RunImportBatch.
type BatchOptions struct {
	// ChunkSize bounds each persistence round. Defaults to DefaultChunkSize.
	ChunkSize int
	// OnProgress is called after every attempted row.
	OnProgress ProgressFunc
	// Observer receives per-row and per-batch events.
	Observer Observer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RunImportBatch commits the valid rows of rows to store under scope.
// Invalid rows are skipped and never reach the store.
//
// The returned error is non-nil only when ctx was cancelled; the result is
// still complete for the rows that were attempted and has Cancelled set.
func RunImportBatch(ctx context.Context, store Store, scope Scope, s *schema.Schema, rows []ParsedRow, opts BatchOptions) (ImportBatchResult, error) {
	start := time.Now()

	if store == nil {
		return ImportBatchResult{}, errors.New("run import batch: nil store")
	}
	if s == nil {
		return ImportBatchResult{}, errors.New("run import batch: nil schema")
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tenant", scope.Tenant, "entity", scope.Entity)

	valid := ValidSubset(rows)
	result := ImportBatchResult{Total: len(valid)}
	progress := Progress{
		Total:  len(valid),
		Chunks: (len(valid) + chunkSize - 1) / chunkSize,
	}

	allDenied := true
	var cancelErr error

chunks:
	for lo := 0; lo < len(valid); lo += chunkSize {
		hi := min(lo+chunkSize, len(valid))
		progress.Chunk = lo/chunkSize + 1
		logger.Debug("importing chunk", "chunk", progress.Chunk, "of", progress.Chunks, "rows", hi-lo)

		for _, row := range valid[lo:hi] {
			if err := ctx.Err(); err != nil {
				cancelErr = err
				break chunks
			}

			outcome, err := commitRow(ctx, store, scope, s, row)
			if err != nil && ctx.Err() != nil {
				// The store gave up because we were cancelled.
				cancelErr = ctx.Err()
				break chunks
			}

			switch outcome.Action {
			case ActionAdded:
				result.Added++
				allDenied = false
			case ActionUpdated:
				result.Updated++
				allDenied = false
			case ActionFailed:
				result.Failed++
				result.Failures = append(result.Failures, outcome)
				if !IsAccessDenied(err) {
					allDenied = false
				}
				logger.Warn("row import failed", "row", row.Index, "natural_key", outcome.NaturalKey, "error", err)
			}
			observer.RowCommitted(scope.Entity, outcome.Action)

			progress.Processed++
			progress.Failed = result.Failed
			if opts.OnProgress != nil {
				opts.OnProgress(progress)
			}
		}
	}

	if cancelErr == nil && result.Total > 0 && result.Failed == result.Total && allDenied {
		// One diagnostic replaces the identical per-row failures.
		result.Diagnostic = ErrInsufficientPermission.Error()
		result.Failures = nil
		logger.Error("every row was denied by the store", "rows", result.Failed)
	}
	result.Cancelled = cancelErr != nil
	result.Duration = time.Since(start)

	observer.BatchFinished(scope.Entity, result)
	logger.Info("import batch finished",
		"added", result.Added,
		"updated", result.Updated,
		"failed", result.Failed,
		"cancelled", result.Cancelled,
		"duration", result.Duration,
	)

	return result, cancelErr
}

// commitRow looks up the natural key and inserts or updates one row.
// The returned error is the store failure behind an ActionFailed outcome.
func commitRow(ctx context.Context, store Store, scope Scope, s *schema.Schema, row ParsedRow) (ImportOutcome, error) {
	key := NaturalKeyOf(s, row)
	outcome := ImportOutcome{Row: row.Index, NaturalKey: key}

	var existing string
	if key != "" {
		id, err := store.ExistsByNaturalKey(ctx, scope, key)
		if err != nil {
			perr := &PersistenceError{Op: "lookup", NaturalKey: key, Err: err}
			outcome.Action = ActionFailed
			outcome.Error = perr.Error()
			return outcome, perr
		}
		existing = id
	}

	op := "insert"
	if existing != "" {
		op = "update"
	}

	fields := make(map[string]any, len(row.Data))
	for k, v := range row.Data {
		fields[k] = v
	}

	if _, err := store.Upsert(ctx, scope, Record{ID: existing, NaturalKey: key, Fields: fields}); err != nil {
		perr := &PersistenceError{Op: op, NaturalKey: key, Err: err}
		outcome.Action = ActionFailed
		outcome.Error = perr.Error()
		return outcome, perr
	}

	outcome.Action = ActionAdded
	if existing != "" {
		outcome.Action = ActionUpdated
	}
	return outcome, nil
}

// NaturalKeyOf renders the natural key value of row, or "" if the schema
// has no natural key or the row has no value for it.
func NaturalKeyOf(s *schema.Schema, row ParsedRow) string {
	nk := s.NaturalKey()
	if nk == "" {
		return ""
	}
	switch v := row.Data[nk].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return formatNumber(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
