package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		def         Definition
		errContains string
	}{
		{
			name: "minimal definition",
			def: Definition{
				Entity: "vendors",
				Fields: []Field{{Key: "code", Required: true}},
			},
		},
		{
			name:        "bad entity",
			def:         Definition{Entity: "Vendors!", Fields: []Field{{Key: "code"}}},
			errContains: "entity",
		},
		{
			name:        "no fields",
			def:         Definition{Entity: "vendors"},
			errContains: "no fields",
		},
		{
			name:        "duplicate key",
			def:         Definition{Entity: "vendors", Fields: []Field{{Key: "code"}, {Key: "code"}}},
			errContains: "declared twice",
		},
		{
			name:        "unknown type",
			def:         Definition{Entity: "vendors", Fields: []Field{{Key: "code", Type: "money"}}},
			errContains: "unknown type",
		},
		{
			name:        "natural key not a field",
			def:         Definition{Entity: "vendors", NaturalKey: "id", Fields: []Field{{Key: "code"}}},
			errContains: "natural key",
		},
		{
			name: "min on string field",
			def: Definition{
				Entity: "vendors",
				Fields: []Field{{Key: "code"}},
				Rules:  []Rule{{Kind: RuleMin, Field: "code"}},
			},
			errContains: "not a number",
		},
		{
			name: "less_than with unknown other",
			def: Definition{
				Entity: "vendors",
				Fields: []Field{{Key: "limit", Type: TypeNumber}},
				Rules:  []Rule{{Kind: RuleLessThan, Field: "limit", Other: "cap"}},
			},
			errContains: "unknown other field",
		},
		{
			name: "unknown rule kind",
			def: Definition{
				Entity: "vendors",
				Fields: []Field{{Key: "code"}},
				Rules:  []Rule{{Kind: "regex", Field: "code"}},
			},
			errContains: "unknown rule kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.def)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.def.Entity, s.Entity())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Definition{Entity: "vendors", Fields: []Field{{Key: "code"}}})
	require.NoError(t, err)

	f, ok := s.Field("code")
	require.True(t, ok)
	assert.Equal(t, TypeString, f.Type)
	assert.Equal(t, "code", f.Label)
	assert.Equal(t, "vendors", s.Label())
}

func TestSchema_Immutable(t *testing.T) {
	s := Inventory()

	fields := s.Fields()
	fields[0].Key = "changed"
	fields[0].Aliases[0] = "changed"

	f, ok := s.Field("sku")
	require.True(t, ok)
	assert.Equal(t, "sku", s.Fields()[0].Key)
	assert.NotEqual(t, "changed", f.Aliases[0])
}

func TestSchema_Lookups(t *testing.T) {
	s := Employees()

	assert.Equal(t, "employee_number", s.NaturalKey())
	assert.Equal(t, []string{"employee_number", "first_name", "last_name"}, keysOf(s.RequiredFields()))
	assert.Equal(t, "employee_number", s.Keys()[0])

	_, ok := s.Field("missing")
	assert.False(t, ok)
}

func TestBuiltin(t *testing.T) {
	r := Builtin()
	assert.Equal(t, 3, r.Count())

	var entities []string
	for _, s := range r.All() {
		entities = append(entities, s.Entity())
	}
	assert.Equal(t, []string{EntityAssets, EntityEmployees, EntityInventory}, entities)

	inv, ok := r.Get(EntityInventory)
	require.True(t, ok)
	sku, _ := inv.Field("sku")
	assert.Equal(t, "SKU", sku.Label)
	assert.True(t, sku.Required)

	assets, _ := r.Get(EntityAssets)
	var hasSalvageRule bool
	for _, rule := range assets.Rules() {
		if rule.Kind == RuleLessThan && rule.Field == "salvage_value" && rule.Other == "purchase_cost" {
			hasSalvageRule = true
		}
	}
	assert.True(t, hasSalvageRule)
}

func TestBuiltin_Independent(t *testing.T) {
	a := Builtin()
	b := Builtin()

	custom := MustNew(Definition{Entity: "vendors", Fields: []Field{{Key: "code"}}})
	require.NoError(t, a.Register(custom))

	assert.Equal(t, 4, a.Count())
	assert.Equal(t, 3, b.Count())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := Builtin()
	err := r.Register(Inventory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	replacement := MustNew(Definition{Entity: EntityInventory, Label: "Stock", Fields: []Field{{Key: "sku"}}})
	r.Replace(replacement)
	got, _ := r.Get(EntityInventory)
	assert.Equal(t, "Stock", got.Label())
}

func TestParse(t *testing.T) {
	data := []byte(`
entities:
  - entity: vendors
    label: Vendors
    natural_key: vendor_code
    fields:
      - key: vendor_code
        label: Vendor Code
        required: true
        aliases: [supplier_code, supplier_id]
      - key: credit_limit
        label: Credit Limit
        type: number
    rules:
      - kind: min
        field: credit_limit
        value: 0
`)

	schemas, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, schemas, 1)

	s := schemas[0]
	assert.Equal(t, "vendors", s.Entity())
	assert.Equal(t, "vendor_code", s.NaturalKey())
	f, ok := s.Field("vendor_code")
	require.True(t, ok)
	assert.Equal(t, []string{"supplier_code", "supplier_id"}, f.Aliases)
	require.Len(t, s.Rules(), 1)
	assert.Equal(t, RuleMin, s.Rules()[0].Kind)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		errContains string
	}{
		{"unknown key", "entities:\n  - entity: v\n    feilds: []\n", "parse schema yaml"},
		{"invalid schema", "entities:\n  - entity: v\n", "no fields"},
		{"duplicate entity", "entities:\n  - entity: v\n    fields: [{key: a}]\n  - entity: v\n    fields: [{key: a}]\n", "defined twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadFile_RendersBuiltins(t *testing.T) {
	data, err := Marshal(Assets())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	schemas, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, Assets().Keys(), schemas[0].Keys())
	assert.Len(t, schemas[0].Rules(), len(Assets().Rules()))
}

func keysOf(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Key
	}
	return out
}
