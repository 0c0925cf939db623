package core

import (
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }

func identityMappings(keys ...string) []ColumnMapping {
	out := make([]ColumnMapping, len(keys))
	for i, k := range keys {
		out[i] = ColumnMapping{SourceColumn: k, TargetField: k, Confidence: 1}
	}
	return out
}

func rawRow(kv ...string) RawRow {
	row := make(RawRow, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			row[kv[i]] = NullValue()
			continue
		}
		row[kv[i]] = StringValue(kv[i+1])
	}
	return row
}

func TestValidateRows_Inventory(t *testing.T) {
	v := NewValidator(schema.Inventory(), WithClock(fixedNow))
	mappings := identityMappings("sku", "name", "unit_price", "cost_price", "active")

	rows, err := v.ValidateRows([]RawRow{
		rawRow("sku", "A1", "name", "Widget", "unit_price", "ZMW 12.50", "cost_price", "8", "active", "Yes"),
		rawRow("sku", "", "name", "Gadget", "unit_price", "2"),
		rawRow("sku", "C3", "name", "", "unit_price", "-5"),
	}, mappings)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.True(t, rows[0].IsValid())
	assert.Equal(t, map[string]any{
		"sku":        "A1",
		"name":       "Widget",
		"unit_price": 12.5,
		"cost_price": 8.0,
		"active":     true,
	}, rows[0].Data)

	assert.Equal(t, 1, rows[1].Index)
	assert.Equal(t, []string{"SKU is required"}, rows[1].Errors)
	assert.NotContains(t, rows[1].Data, "sku")

	assert.Equal(t, []string{"Name is required", "Unit Price must be at least 0"}, rows[2].Errors)

	valid := ValidSubset(rows)
	require.Len(t, valid, 1)
	assert.Equal(t, 0, valid[0].Index)
}

func TestValidateRows_IncompleteMapping(t *testing.T) {
	v := NewValidator(schema.Inventory())

	rows, err := v.ValidateRows([]RawRow{rawRow("sku", "A1")}, identityMappings("sku"))
	assert.Nil(t, rows)

	var mie *MappingIncompleteError
	require.True(t, errors.As(err, &mie))
	assert.Equal(t, []string{"name"}, mie.Missing)
}

func TestValidateRow_AssetRules(t *testing.T) {
	v := NewValidator(schema.Assets(), WithClock(fixedNow))
	columns := MappedFields(identityMappings("asset_tag", "name", "purchase_cost", "salvage_value", "purchase_date", "depreciation_method"))

	tests := []struct {
		name string
		row  RawRow
		want []string
	}{
		{
			name: "valid",
			row:  rawRow("asset_tag", "FA-1", "name", "Van", "purchase_cost", "1000", "salvage_value", "100", "purchase_date", "2024-05-01", "depreciation_method", "Straight Line"),
		},
		{
			name: "salvage not below cost",
			row:  rawRow("asset_tag", "FA-2", "name", "Desk", "purchase_cost", "200", "salvage_value", "200"),
			want: []string{"Salvage value must be less than purchase cost"},
		},
		{
			name: "zero cost skips salvage comparison",
			row:  rawRow("asset_tag", "FA-3", "name", "Gift", "purchase_cost", "0", "salvage_value", "50"),
		},
		{
			name: "future purchase date",
			row:  rawRow("asset_tag", "FA-4", "name", "Drone", "purchase_date", "2030-01-01"),
			want: []string{"Purchase Date cannot be in the future"},
		},
		{
			name: "unknown method",
			row:  rawRow("asset_tag", "FA-5", "name", "Printer", "depreciation_method", "random"),
			want: []string{"Depreciation Method must be one of: straight_line, declining_balance, sum_of_years"},
		},
		{
			name: "negative cost",
			row:  rawRow("asset_tag", "FA-6", "name", "Chair", "purchase_cost", "-1"),
			want: []string{"Purchase Cost must be at least 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.ValidateRow(0, tt.row, columns)
			assert.Equal(t, tt.want, got.Errors)
		})
	}
}

func TestValidateRow_EmployeeEmail(t *testing.T) {
	s := schema.Employees()
	mappings := identityMappings("employee_number", "first_name", "last_name", "email")

	good := ValidateRow(s, rawRow("employee_number", "E1", "first_name", "Chipo", "last_name", "Banda", "email", "chipo@example.com"), mappings)
	assert.True(t, good.IsValid(), good.Errors)

	bad := ValidateRow(s, rawRow("employee_number", "E2", "first_name", "Mwila", "last_name", "Phiri", "email", "mwila at example"), mappings)
	assert.Equal(t, []string{"Email must be a valid email address"}, bad.Errors)

	blank := ValidateRow(s, rawRow("employee_number", "E3", "first_name", "Ng", "last_name", "O", "email", ""), mappings)
	assert.True(t, blank.IsValid(), "absent operands never fire rules")
}

func TestValidateRow_UnmappedColumnsIgnored(t *testing.T) {
	row := ValidateRow(schema.Inventory(), rawRow("sku", "A1", "name", "Widget", "notes", "ignore me"), identityMappings("sku", "name"))
	assert.True(t, row.IsValid())
	assert.Len(t, row.Data, 2)
}
