package schema

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// File is the on-disk layout of a schema file:
//
//	entities:
//	  - entity: vendors
//	    label: Vendors
//	    natural_key: vendor_code
//	    fields:
//	      - key: vendor_code
//	        label: Vendor Code
//	        required: true
//	        aliases: [supplier_code, supplier_id]
//	    rules:
//	      - kind: min
//	        field: credit_limit
//	        value: 0
type File struct {
	Entities []Definition `yaml:"entities"`
}

// Parse decodes YAML schema definitions and builds a schema for each.
// Unknown keys are rejected so typos in rule or field names surface early.
func Parse(data []byte) ([]*Schema, error) {
	var f File
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}

	seen := make(map[string]bool, len(f.Entities))
	out := make([]*Schema, 0, len(f.Entities))
	for _, def := range f.Entities {
		s, err := New(def)
		if err != nil {
			return nil, err
		}
		if seen[s.Entity()] {
			return nil, fmt.Errorf("entity %q defined twice", s.Entity())
		}
		seen[s.Entity()] = true
		out = append(out, s)
	}
	return out, nil
}

// LoadFile reads and parses a schema file.
func LoadFile(path string) ([]*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Marshal renders schemas in the same layout Parse accepts.
func Marshal(schemas ...*Schema) ([]byte, error) {
	f := File{Entities: make([]Definition, len(schemas))}
	for i, s := range schemas {
		f.Entities[i] = s.Definition()
	}
	return yaml.Marshal(f)
}
