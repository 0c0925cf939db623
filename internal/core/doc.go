// Package core provides the business logic for importing tabular files into
// entity records.
//
// This package holds all domain logic independent of any transport or
// storage. The web server, the importctl CLI and the tests drive the same
// [Service].
//
// # Pipeline
//
// An import runs through four stages, each usable on its own:
//
//   - Mapping: [MatchColumns] scores every source column against the
//     schema fields and [ResolveConflicts] keeps one column per field.
//     [ApplyOverrides] layers explicit user choices on top.
//   - Validation: a [Validator] coerces mapped cells to their field types
//     and reports required-field and business-rule failures per row.
//   - Preview: [AnalyzeImport] classifies valid rows as new or updates
//     without writing anything.
//   - Commit: [RunImportBatch] writes valid rows one at a time through a
//     [Store], recording per-row outcomes.
//
// # Sessions
//
// [Service.StartImport] runs the commit stage in the background and returns
// an id. Progress is streamed with [Service.SubscribeProgress] and the final
// report is read with [Service.GetImportResult]. An [ImportLimiter] caps the
// number of running sessions and serializes sessions that write the same
// tenant and entity.
//
// # Stores
//
// A Store only needs two operations:
//
//	ExistsByNaturalKey(ctx, scope, key) (id string, err error)
//	Upsert(ctx, scope, rec) (id string, err error)
//
// Implementations live under internal/store.
package core
