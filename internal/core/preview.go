package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// PreviewSummary contains the summary counts for an import preview.
type PreviewSummary struct {
	TotalRows       int `json:"totalRows"`
	NewRows         int `json:"newRows"`
	UpdateRows      int `json:"updateRows"`
	ErrorRows       int `json:"errorRows"`
	DuplicateInFile int `json:"duplicateInFile"`
}

// RowPreview represents a single row for preview display.
type RowPreview struct {
	LineNumber int               `json:"lineNumber"`
	RowKey     string            `json:"rowKey,omitempty"`
	Values     map[string]string `json:"values"`
}

// ErrorPreview represents a row with validation errors.
type ErrorPreview struct {
	LineNumber int               `json:"lineNumber"`
	RowKey     string            `json:"rowKey,omitempty"`
	Values     map[string]string `json:"values"`
	Errors     []string          `json:"errors"`
}

// DuplicatePreview represents a natural key that appears more than once.
type DuplicatePreview struct {
	RowKey      string `json:"rowKey"`
	LineNumbers []int  `json:"lineNumbers"`
}

// PreviewResponse is the read-only analysis of what an import would do.
type PreviewResponse struct {
	Summary          PreviewSummary     `json:"summary"`
	Mappings         []ColumnMapping    `json:"mappings,omitempty"`
	NewRowSamples    []RowPreview       `json:"newRowSamples"`
	UpdateSamples    []RowPreview       `json:"updateSamples"`
	ErrorSamples     []ErrorPreview     `json:"errorSamples"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// Sample limits
const (
	maxNewRowSamples    = 10
	maxUpdateSamples    = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// AnalyzeImport classifies parsed rows without writing anything: invalid
// rows are errors, valid rows are new or updates depending on whether the
// store already holds their natural key. Repeated keys within the file are
// counted as duplicates; after the first occurrence they would update the
// record the first one wrote, and are classified that way.
func AnalyzeImport(ctx context.Context, store Store, scope Scope, s *schema.Schema, rows []ParsedRow) (*PreviewResponse, error) {
	startTime := time.Now()

	resp := &PreviewResponse{
		Summary: PreviewSummary{TotalRows: len(rows)},
	}

	seenKeys := make(map[string][]int)
	var keyOrder []string

	for _, row := range rows {
		lineNum := row.Index + 2 // 1-indexed, after header
		rowKey := NaturalKeyOf(s, row)
		values := previewValues(row.Data)

		if !row.IsValid() {
			resp.Summary.ErrorRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				resp.ErrorSamples = append(resp.ErrorSamples, ErrorPreview{
					LineNumber: lineNum,
					RowKey:     rowKey,
					Values:     values,
					Errors:     row.Errors,
				})
			}
			continue
		}

		isUpdate := false
		if rowKey != "" {
			if _, seen := seenKeys[rowKey]; seen {
				isUpdate = true
			} else {
				keyOrder = append(keyOrder, rowKey)
				id, err := store.ExistsByNaturalKey(ctx, scope, rowKey)
				if err != nil {
					return nil, &PersistenceError{Op: "lookup", NaturalKey: rowKey, Err: err}
				}
				isUpdate = id != ""
			}
			seenKeys[rowKey] = append(seenKeys[rowKey], lineNum)
		}

		preview := RowPreview{LineNumber: lineNum, RowKey: rowKey, Values: values}
		if isUpdate {
			resp.Summary.UpdateRows++
			if len(resp.UpdateSamples) < maxUpdateSamples {
				resp.UpdateSamples = append(resp.UpdateSamples, preview)
			}
		} else {
			resp.Summary.NewRows++
			if len(resp.NewRowSamples) < maxNewRowSamples {
				resp.NewRowSamples = append(resp.NewRowSamples, preview)
			}
		}
	}

	for _, key := range keyOrder {
		lines := seenKeys[key]
		if len(lines) > 1 {
			resp.Summary.DuplicateInFile += len(lines) - 1
			if len(resp.DuplicateSamples) < maxDuplicateSamples {
				resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicatePreview{
					RowKey:      key,
					LineNumbers: lines,
				})
			}
		}
	}

	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return resp, nil
}

// previewValues renders coerced values for display.
func previewValues(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = formatValueForPreview(v)
	}
	return out
}

// formatValueForPreview formats a coerced value for display.
func formatValueForPreview(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case float64:
		return formatNumber(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
