package core

// validation.go turns raw rows into typed, validated ParsedRows.
//
// Validation happens in a fixed order for every row:
//  1. Coercion: every mapped field is converted to its schema type
//  2. Required fields: "<Label> is required" for each absent one, in
//     declaration order
//  3. Business rules: the schema's rule list, in order
//
// A ParsedRow is a pure projection of (schema, mapping, raw row). It is
// recomputed whenever either input changes.

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// Validator validates rows for one schema. It is immutable and safe for
// concurrent use.
type Validator struct {
	schema *schema.Schema
	fields []schema.Field
	rules  []rule
	now    func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClock sets the clock used by date rules such as not_future.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator compiles the business rules of s.
func NewValidator(s *schema.Schema, opts ...ValidatorOption) *Validator {
	v := &Validator{
		schema: s,
		fields: s.Fields(),
		rules:  compileRules(s),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Schema returns the schema rows are validated against.
func (v *Validator) Schema() *schema.Schema { return v.schema }

// ValidateRow coerces and validates a single row. columns maps field key
// to source column, as returned by MappedFields.
func (v *Validator) ValidateRow(index int, raw RawRow, columns map[string]string) ParsedRow {
	now := v.now()
	row := ParsedRow{Index: index, Data: make(map[string]any, len(columns))}

	for _, f := range v.fields {
		col, mapped := columns[f.Key]
		if !mapped {
			continue
		}
		if val, ok := coerceAt(raw[col], f.Type, now); ok {
			row.Data[f.Key] = val
		}
	}

	for _, f := range v.fields {
		if !f.Required {
			continue
		}
		if _, ok := row.Data[f.Key]; !ok {
			row.Errors = append(row.Errors, fmt.Sprintf("%s is required", f.Label))
		}
	}

	for _, r := range v.rules {
		if msg, failed := r(row.Data, now); failed {
			row.Errors = append(row.Errors, msg)
		}
	}

	return row
}

// ValidateRows validates every row against mappings. It fails with a
// *MappingIncompleteError, before looking at any row, when a required
// field has no mapped column.
func (v *Validator) ValidateRows(rows []RawRow, mappings []ColumnMapping) ([]ParsedRow, error) {
	if err := CheckMapping(v.schema, mappings); err != nil {
		return nil, err
	}

	columns := MappedFields(mappings)
	out := make([]ParsedRow, len(rows))
	for i, raw := range rows {
		out[i] = v.ValidateRow(i, raw, columns)
	}
	return out, nil
}

// ValidateRow is a convenience wrapper that validates one row with a fresh
// Validator.
func ValidateRow(s *schema.Schema, raw RawRow, mappings []ColumnMapping) ParsedRow {
	return NewValidator(s).ValidateRow(0, raw, MappedFields(mappings))
}

// ValidSubset returns the rows without validation messages.
func ValidSubset(rows []ParsedRow) []ParsedRow {
	out := make([]ParsedRow, 0, len(rows))
	for _, r := range rows {
		if r.IsValid() {
			out = append(out, r)
		}
	}
	return out
}
