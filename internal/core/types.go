package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind is the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a raw spreadsheet cell: a string, number, boolean or null.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// StringValue returns a string cell.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue returns a numeric cell.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue returns a boolean cell.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// NullValue returns an empty cell.
func NullValue() Value { return Value{} }

// ValueOf converts a Go value to a cell. Unsupported types are rendered
// with fmt and stored as strings.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return NullValue()
	case Value:
		return x
	case string:
		return StringValue(x)
	case bool:
		return BoolValue(x)
	case float64:
		return NumberValue(x)
	case float32:
		return NumberValue(float64(x))
	case int:
		return NumberValue(float64(x))
	case int32:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return StringValue(x.String())
		}
		return NumberValue(f)
	default:
		return StringValue(fmt.Sprint(x))
	}
}

// Kind returns the dynamic type.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the cell is empty.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Number returns the numeric payload and whether the cell is a number.
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean payload and whether the cell is a boolean.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// String renders the cell as text. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// MarshalJSON encodes the cell as its natural JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. Objects and arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = NullValue()
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '{', '[':
		return fmt.Errorf("cell value must be a scalar, got %s", data[:1])
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	}
	return nil
}

// RawRow is one decoded input row keyed by source column name.
type RawRow map[string]Value

// Table is decoded tabular input: a header row and the data rows keyed by
// header.
type Table struct {
	Headers []string `json:"headers"`
	Rows    []RawRow `json:"rows"`
}

// ColumnMapping links a source column to a schema field.
// An empty TargetField means the column is not mapped.
type ColumnMapping struct {
	SourceColumn string   `json:"source_column"`
	TargetField  string   `json:"target_field,omitempty"`
	Confidence   float64  `json:"confidence"`
	SampleValues []string `json:"sample_values,omitempty"`
}

// Mapped reports whether the column has a target field.
func (m ColumnMapping) Mapped() bool { return m.TargetField != "" }

// ParsedRow is a raw row coerced and validated against a schema.
type ParsedRow struct {
	Index  int            `json:"index"`
	Data   map[string]any `json:"data"`
	Errors []string       `json:"errors,omitempty"`
}

// IsValid reports whether no validation message was produced.
func (r ParsedRow) IsValid() bool { return len(r.Errors) == 0 }

// Action is the outcome of committing one row.
type Action string

const (
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
	ActionFailed  Action = "failed"
)

// ImportOutcome records what happened to one attempted row.
type ImportOutcome struct {
	Row        int    `json:"row"`
	NaturalKey string `json:"natural_key"`
	Action     Action `json:"action"`
	Error      string `json:"error,omitempty"`
}

// ImportBatchResult summarises a commit pass. It is built once when the
// batch ends and not modified afterwards.
type ImportBatchResult struct {
	Total      int             `json:"total"`
	Added      int             `json:"added"`
	Updated    int             `json:"updated"`
	Failed     int             `json:"failed"`
	Failures   []ImportOutcome `json:"failures,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
	Cancelled  bool            `json:"cancelled,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Processed returns the number of rows attempted.
func (r ImportBatchResult) Processed() int { return r.Added + r.Updated + r.Failed }

// Progress is pushed to the caller after each committed row.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Failed    int `json:"failed"`
	Chunk     int `json:"chunk"`
	Chunks    int `json:"chunks"`
}

// Percent returns progress as 0-100.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Processed * 100 / p.Total
}

// ProgressFunc receives progress events.
type ProgressFunc func(Progress)

// Scope identifies the tenant and entity a record belongs to.
type Scope struct {
	Tenant string
	Entity string
}

// Record is the unit written to a Store. An empty ID asks the store to
// insert a new record; otherwise the record with that ID is replaced.
type Record struct {
	ID         string
	NaturalKey string
	Fields     map[string]any
}

// Store is the persistence collaborator. ExistsByNaturalKey returns the id
// of the live (non-archived) record with key, or "" if there is none.
// Upsert returns the id of the written record.
type Store interface {
	ExistsByNaturalKey(ctx context.Context, scope Scope, key string) (string, error)
	Upsert(ctx context.Context, scope Scope, rec Record) (string, error)
}

// Observer receives import events. Implementations must be safe for
// concurrent use.
type Observer interface {
	RowCommitted(entity string, action Action)
	BatchFinished(entity string, result ImportBatchResult)
}

type nopObserver struct{}

func (nopObserver) RowCommitted(string, Action) {}
func (nopObserver) BatchFinished(string, ImportBatchResult) {}
