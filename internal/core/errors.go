package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrUnknownEntity is returned when no schema is registered for an entity.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrImportNotFound is returned for unknown or expired import sessions.
	ErrImportNotFound = errors.New("import not found")

	// ErrAccessDenied is returned by stores when the caller may not write
	// to the tenant's records.
	ErrAccessDenied = errors.New("access denied")

	// ErrInsufficientPermission is the elevated diagnostic reported when
	// every row of a batch failed with an access-denied signature.
	ErrInsufficientPermission = errors.New("insufficient permission to import")

	// ErrInvalidOverride wraps every rejected mapping override.
	ErrInvalidOverride = errors.New("invalid mapping override")

	// ErrTenantRequired is returned when a write or lookup has no tenant.
	ErrTenantRequired = errors.New("tenant required")
)

// FileParseError means the input could not be decoded into rows at all.
type FileParseError struct {
	FileName string
	Err      error
}

func (e *FileParseError) Error() string {
	if e.FileName != "" {
		return fmt.Sprintf("could not read file %s: %v", e.FileName, e.Err)
	}
	return fmt.Sprintf("could not read file: %v", e.Err)
}

func (e *FileParseError) Unwrap() error { return e.Err }

// MappingIncompleteError lists required fields that have no mapped column.
type MappingIncompleteError struct {
	Entity  string
	Missing []string // field keys
	Labels  []string // field labels, same order as Missing
}

func (e *MappingIncompleteError) Error() string {
	return fmt.Sprintf("mapping incomplete for %s: missing required fields: %s",
		e.Entity, strings.Join(e.Labels, ", "))
}

// RowValidationError summarises the validation messages of one row.
type RowValidationError struct {
	Row      int      `json:"row"`
	Messages []string `json:"messages"`
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row+1, strings.Join(e.Messages, "; "))
}

// RowErrors returns a RowValidationError for every invalid row.
func RowErrors(rows []ParsedRow) []*RowValidationError {
	var out []*RowValidationError
	for _, r := range rows {
		if !r.IsValid() {
			out = append(out, &RowValidationError{Row: r.Index, Messages: r.Errors})
		}
	}
	return out
}

// PersistenceError wraps a store failure for one row.
type PersistenceError struct {
	Op         string // "lookup", "insert" or "update"
	NaturalKey string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.NaturalKey != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.NaturalKey, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// accessDeniedSignatures are lowercase fragments that identify a
// permission failure in store error text.
var accessDeniedSignatures = []string{
	"access denied",
	"permission denied",
	"insufficient privilege",
	"row-level security",
	"not authorized",
	"unauthorized",
	"forbidden",
	"42501",
}

// IsAccessDenied reports whether err looks like a permission failure.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccessDenied) {
		return true
	}
	return isAccessDeniedText(err.Error())
}

func isAccessDeniedText(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range accessDeniedSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
