// Package admin provides administrative operations on stored records.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/logging"
)

// ArchiveTimeout is the maximum duration for an archive run.
const ArchiveTimeout = 30 * time.Second

// ErrArchiveUnsupported is returned when the store cannot archive records.
var ErrArchiveUnsupported = errors.New("store does not support archiving")

// Archiver soft-deletes the live record with a natural key. Archived
// records are skipped by ExistsByNaturalKey, so the next import of the same
// key inserts a new record.
type Archiver interface {
	Archive(ctx context.Context, scope core.Scope, key string) (bool, error)
}

// ArchiveResult lists which keys were archived and which had no live
// record.
type ArchiveResult struct {
	Archived []string `json:"archived"`
	Missing  []string `json:"missing,omitempty"`
}

// ArchiveKeys archives every key in scope, one after another. It stops at
// the first store failure; keys handled before it stay archived.
func ArchiveKeys(ctx context.Context, store core.Store, scope core.Scope, keys []string) (ArchiveResult, error) {
	var result ArchiveResult

	a, ok := store.(Archiver)
	if !ok {
		return result, ErrArchiveUnsupported
	}
	if scope.Tenant == "" {
		return result, core.ErrTenantRequired
	}

	ctx, cancel := context.WithTimeout(ctx, ArchiveTimeout)
	defer cancel()

	logger := logging.WithFields(ctx, "tenant", scope.Tenant, "entity", scope.Entity)

	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		archived, err := a.Archive(ctx, scope, key)
		if err != nil {
			return result, &core.PersistenceError{Op: "archive", NaturalKey: key, Err: err}
		}
		if archived {
			result.Archived = append(result.Archived, key)
		} else {
			result.Missing = append(result.Missing, key)
		}
	}

	logger.Info("records archived", "archived", len(result.Archived), "missing", len(result.Missing))
	return result, nil
}

func (r ArchiveResult) String() string {
	return fmt.Sprintf("%d archived, %d not found", len(r.Archived), len(r.Missing))
}
