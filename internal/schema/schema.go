// Package schema defines the target entities an import can write to.
//
// A Schema is an ordered list of fields plus an optional natural key and a
// list of declarative business rules. Schemas are immutable once built with
// [New]; they are passed explicitly to the matching and validation code so
// that engines for different entities never share mutable state.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType is the value type a field is coerced to.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate:
		return true
	}
	return false
}

// Field describes a single target field.
type Field struct {
	Key      string    `yaml:"key" json:"key"`
	Label    string    `yaml:"label" json:"label"`
	Required bool      `yaml:"required" json:"required"`
	Type     FieldType `yaml:"type" json:"type"`
	Aliases  []string  `yaml:"aliases" json:"aliases,omitempty"`
	Example  string    `yaml:"example" json:"example,omitempty"`
}

// RuleKind names a business rule predicate.
type RuleKind string

const (
	RuleMin       RuleKind = "min"        // number >= Value
	RuleMax       RuleKind = "max"        // number <= Value
	RuleLessThan  RuleKind = "less_than"  // number < Other, only when Other > 0
	RuleBefore    RuleKind = "before"     // date < Other date
	RuleNotFuture RuleKind = "not_future" // date <= today
	RuleOneOf     RuleKind = "one_of"     // value in Values
	RuleEmail     RuleKind = "email"      // value is an email address
)

// Rule is a declarative business rule evaluated after type coercion.
type Rule struct {
	Kind    RuleKind `yaml:"kind" json:"kind"`
	Field   string   `yaml:"field" json:"field"`
	Other   string   `yaml:"other" json:"other,omitempty"`
	Value   float64  `yaml:"value" json:"value,omitempty"`
	Values  []string `yaml:"values" json:"values,omitempty"`
	Message string   `yaml:"message" json:"message,omitempty"`
}

// Definition is the mutable, serializable form of a schema.
type Definition struct {
	Entity     string  `yaml:"entity"`
	Label      string  `yaml:"label"`
	NaturalKey string  `yaml:"natural_key"`
	Fields     []Field `yaml:"fields"`
	Rules      []Rule  `yaml:"rules"`
}

// Schema is a validated, immutable entity definition.
type Schema struct {
	entity     string
	label      string
	naturalKey string
	fields     []Field
	index      map[string]int
	rules      []Rule
}

// New validates def and returns the immutable schema built from it.
// All problems found are reported together.
func New(def Definition) (*Schema, error) {
	var errs []error

	entity := strings.TrimSpace(def.Entity)
	if !isIdentifier(entity) {
		errs = append(errs, fmt.Errorf("entity %q must be lowercase letters, digits and underscores", def.Entity))
	}
	if len(def.Fields) == 0 {
		errs = append(errs, fmt.Errorf("entity %q has no fields", entity))
	}

	s := &Schema{
		entity:     entity,
		label:      strings.TrimSpace(def.Label),
		naturalKey: strings.TrimSpace(def.NaturalKey),
		fields:     make([]Field, 0, len(def.Fields)),
		index:      make(map[string]int, len(def.Fields)),
	}
	if s.label == "" {
		s.label = entity
	}

	for i, f := range def.Fields {
		f = cloneField(f)
		f.Key = strings.TrimSpace(f.Key)
		f.Label = strings.TrimSpace(f.Label)
		if f.Type == "" {
			f.Type = TypeString
		}
		if f.Label == "" {
			f.Label = f.Key
		}

		if !isIdentifier(f.Key) {
			errs = append(errs, fmt.Errorf("field %d: key %q must be lowercase letters, digits and underscores", i, f.Key))
			continue
		}
		if !f.Type.Valid() {
			errs = append(errs, fmt.Errorf("field %q: unknown type %q", f.Key, f.Type))
		}
		if _, dup := s.index[f.Key]; dup {
			errs = append(errs, fmt.Errorf("field %q declared twice", f.Key))
			continue
		}

		s.index[f.Key] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	if s.naturalKey != "" {
		if _, ok := s.index[s.naturalKey]; !ok {
			errs = append(errs, fmt.Errorf("natural key %q is not a field", s.naturalKey))
		}
	}

	for i, r := range def.Rules {
		if err := s.checkRule(r); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i, r.Kind, err))
			continue
		}
		r.Values = append([]string(nil), r.Values...)
		s.rules = append(s.rules, r)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("schema %q: %w", entity, errors.Join(errs...))
	}
	return s, nil
}

// MustNew is like New but panics on error. Only for static definitions.
func MustNew(def Definition) *Schema {
	s, err := New(def)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) checkRule(r Rule) error {
	f, ok := s.Field(r.Field)
	if !ok {
		return fmt.Errorf("unknown field %q", r.Field)
	}

	switch r.Kind {
	case RuleMin, RuleMax:
		if f.Type != TypeNumber {
			return fmt.Errorf("field %q is not a number", r.Field)
		}
	case RuleLessThan, RuleBefore:
		other, ok := s.Field(r.Other)
		if !ok {
			return fmt.Errorf("unknown other field %q", r.Other)
		}
		want := TypeNumber
		if r.Kind == RuleBefore {
			want = TypeDate
		}
		if f.Type != want || other.Type != want {
			return fmt.Errorf("fields %q and %q must both be %s", r.Field, r.Other, want)
		}
	case RuleNotFuture:
		if f.Type != TypeDate {
			return fmt.Errorf("field %q is not a date", r.Field)
		}
	case RuleOneOf:
		if len(r.Values) == 0 {
			return errors.New("one_of needs values")
		}
	case RuleEmail:
		if f.Type != TypeString {
			return fmt.Errorf("field %q is not a string", r.Field)
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

// Entity returns the entity identifier, e.g. "inventory".
func (s *Schema) Entity() string { return s.entity }

// Label returns the display name.
func (s *Schema) Label() string { return s.label }

// NaturalKey returns the natural key field, or "" if records are insert-only.
func (s *Schema) NaturalKey() string { return s.naturalKey }

// Field looks up a field by key.
func (s *Schema) Field(key string) (Field, bool) {
	i, ok := s.index[key]
	if !ok {
		return Field{}, false
	}
	return cloneField(s.fields[i]), true
}

// Fields returns all fields in declared order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	for i, f := range s.fields {
		out[i] = cloneField(f)
	}
	return out
}

// RequiredFields returns the required fields in declared order.
func (s *Schema) RequiredFields() []Field {
	var out []Field
	for _, f := range s.fields {
		if f.Required {
			out = append(out, cloneField(f))
		}
	}
	return out
}

// Keys returns the field keys in declared order.
func (s *Schema) Keys() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Key
	}
	return out
}

// Rules returns the business rules in evaluation order.
func (s *Schema) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		r.Values = append([]string(nil), r.Values...)
		out[i] = r
	}
	return out
}

// Definition returns a serializable copy of the schema.
func (s *Schema) Definition() Definition {
	return Definition{
		Entity:     s.entity,
		Label:      s.label,
		NaturalKey: s.naturalKey,
		Fields:     s.Fields(),
		Rules:      s.Rules(),
	}
}

func cloneField(f Field) Field {
	f.Aliases = append([]string(nil), f.Aliases...)
	return f
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
