package core

// match.go infers which source column feeds which schema field.
//
// Every column is scored against every field independently using a fixed
// set of confidence tiers, then conflicts are resolved across the whole
// column set so each field is claimed by at most one column. All functions
// here are pure: they take plain data and return new values.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// Confidence tiers, highest first.
const (
	ConfidenceExactKey  = 1.0
	ConfidenceAlias     = 0.95
	ConfidenceLabel     = 0.8
	ConfidenceSubstring = 0.7
)

// SuggestThreshold is the default minimum confidence for a per-column
// suggestion. Columns below it are presented unmapped.
const SuggestThreshold = 0.5

// AutoMapThreshold is the default minimum confidence for bulk auto-mapping.
// It is looser than SuggestThreshold on purpose.
const AutoMapThreshold = 0.3

// DefaultSampleSize is the number of sample values kept per column.
const DefaultSampleSize = 3

// Match is the best field for a single source column.
type Match struct {
	Field      string
	Confidence float64
}

// FindBestMatch scores sourceColumn against every field and returns the
// highest scoring one. Ties go to the field declared first. A zero Match
// means nothing matched.
func FindBestMatch(sourceColumn string, fields []schema.Field) Match {
	src := Normalize(sourceColumn)
	if src == "" {
		return Match{}
	}

	var best Match
	for _, f := range fields {
		if c := scoreField(src, f); c > best.Confidence {
			best = Match{Field: f.Key, Confidence: c}
		}
	}
	return best
}

// scoreField returns the highest tier src reaches for f. src must already
// be normalized and non-empty.
func scoreField(src string, f schema.Field) float64 {
	key := Normalize(f.Key)
	if src == key {
		return ConfidenceExactKey
	}

	aliases := make([]string, 0, len(f.Aliases))
	for _, a := range f.Aliases {
		if a = Normalize(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	for _, a := range aliases {
		if src == a {
			return ConfidenceAlias
		}
	}

	if label := Normalize(f.Label); label != "" && strings.Contains(src, label) {
		return ConfidenceLabel
	}

	for _, c := range append([]string{key}, aliases...) {
		if c != "" && (strings.Contains(src, c) || strings.Contains(c, src)) {
			return ConfidenceSubstring
		}
	}
	return 0
}

// MatchOptions controls MatchColumns.
type MatchOptions struct {
	// Threshold is the minimum confidence for a column to be mapped.
	Threshold float64
	// SampleSize is how many non-empty sample values to collect per column.
	SampleSize int
}

// MatchColumns proposes a mapping for every header. Columns scoring below
// the threshold are left unmapped with zero confidence. Conflicts are
// resolved before returning.
func MatchColumns(headers []string, rows []RawRow, fields []schema.Field, opts MatchOptions) []ColumnMapping {
	mappings := make([]ColumnMapping, len(headers))
	for i, h := range headers {
		m := FindBestMatch(h, fields)
		cm := ColumnMapping{
			SourceColumn: h,
			SampleValues: sampleValues(h, rows, opts.SampleSize),
		}
		if m.Field != "" && m.Confidence >= opts.Threshold {
			cm.TargetField = m.Field
			cm.Confidence = m.Confidence
		}
		mappings[i] = cm
	}
	return ResolveConflicts(mappings)
}

func sampleValues(column string, rows []RawRow, n int) []string {
	if n <= 0 {
		return nil
	}
	var out []string
	for _, row := range rows {
		if s := strings.TrimSpace(row[column].String()); s != "" {
			out = append(out, s)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// ResolveConflicts returns a copy of mappings in which every target field
// is claimed by at most one column: the highest confidence column keeps it
// (the earliest column on a tie) and the rest are demoted to unmapped with
// zero confidence.
func ResolveConflicts(mappings []ColumnMapping) []ColumnMapping {
	out := make([]ColumnMapping, len(mappings))
	copy(out, mappings)

	winner := make(map[string]int)
	for i, m := range out {
		if !m.Mapped() {
			continue
		}
		w, seen := winner[m.TargetField]
		if !seen || m.Confidence > out[w].Confidence {
			winner[m.TargetField] = i
		}
	}

	for i, m := range out {
		if m.Mapped() && winner[m.TargetField] != i {
			out[i].TargetField = ""
			out[i].Confidence = 0
		}
	}
	return out
}

// ApplyOverrides applies explicit column choices on top of mappings.
// overrides maps a source column to a field key, or to "" to unmap it.
// Overridden columns get full confidence and take their field away from
// any other column.
func ApplyOverrides(mappings []ColumnMapping, overrides map[string]string, fields []schema.Field) ([]ColumnMapping, error) {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Key] = true
	}

	out := make([]ColumnMapping, len(mappings))
	copy(out, mappings)

	columns := make(map[string]int, len(out))
	for i, m := range out {
		columns[m.SourceColumn] = i
	}

	claimed := make(map[string]string)
	for col, field := range overrides {
		i, ok := columns[col]
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidOverride, col)
		}
		if field != "" && !known[field] {
			return nil, fmt.Errorf("%w: %q maps to unknown field %q", ErrInvalidOverride, col, field)
		}
		if field != "" {
			if prev, dup := claimed[field]; dup {
				return nil, fmt.Errorf("%w: columns %q and %q both mapped to %q", ErrInvalidOverride, prev, col, field)
			}
			claimed[field] = col
		}
		out[i].TargetField = field
		out[i].Confidence = 0
		if field != "" {
			out[i].Confidence = 1
		}
	}

	for i, m := range out {
		if owner, ok := claimed[m.TargetField]; ok && owner != m.SourceColumn {
			out[i].TargetField = ""
			out[i].Confidence = 0
		}
	}

	return ResolveConflicts(out), nil
}

// CheckMapping returns a *MappingIncompleteError if any required field of s
// has no mapped column.
func CheckMapping(s *schema.Schema, mappings []ColumnMapping) error {
	mapped := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		if m.Mapped() {
			mapped[m.TargetField] = true
		}
	}

	var missing []schema.Field
	for _, f := range s.RequiredFields() {
		if !mapped[f.Key] {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	err := &MappingIncompleteError{Entity: s.Entity()}
	for _, f := range missing {
		err.Missing = append(err.Missing, f.Key)
		err.Labels = append(err.Labels, f.Label)
	}
	return err
}

// MappedFields returns field key to source column for the mapped columns.
func MappedFields(mappings []ColumnMapping) map[string]string {
	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.Mapped() {
			out[m.TargetField] = m.SourceColumn
		}
	}
	return out
}
