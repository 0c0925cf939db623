// Package source decodes uploaded spreadsheets into a header row and raw
// rows keyed by header.
//
// Supported formats are chosen by file extension:
//
//	.csv, .txt     comma separated text
//	.tsv           tab separated text
//	.xlsx, .xlsm   Excel workbooks (first sheet with data)
//
// Every decoding failure is returned as *core.FileParseError.
package source

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// Table is a decoded file.
type Table = core.Table

// Decoding errors. They are wrapped in *core.FileParseError.
var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrEmptyFile       = errors.New("empty file")
	ErrNoDataRows      = errors.New("no data rows")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Format is a supported input format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// FormatOf returns the format for a file name, by extension.
func FormatOf(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, true
	case ".tsv":
		return FormatTSV, true
	case ".xlsx", ".xlsm":
		return FormatXLSX, true
	default:
		return "", false
	}
}

// Decode reads a whole file. maxSize bounds the bytes read; 0 means no
// limit.
func Decode(name string, r io.Reader, maxSize int64) (*Table, error) {
	format, ok := FormatOf(name)
	if !ok {
		return nil, &core.FileParseError{
			FileName: name,
			Err:      fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(name)),
		}
	}
	return DecodeFormat(format, name, r, maxSize)
}

// DecodeFormat decodes r as format. name is only used in errors.
func DecodeFormat(format Format, name string, r io.Reader, maxSize int64) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readDelimited(r, ',', maxSize)
	case FormatTSV:
		records, err = readDelimited(r, '\t', maxSize)
	case FormatXLSX:
		records, err = readWorkbook(r, maxSize)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedType, format)
	}
	if err != nil {
		return nil, &core.FileParseError{FileName: name, Err: err}
	}

	table, err := buildTable(records)
	if err != nil {
		return nil, &core.FileParseError{FileName: name, Err: err}
	}
	return table, nil
}

// buildTable takes the first non-empty record as the header and turns the
// remaining non-empty records into rows. Short rows get null cells; cells
// past the last header are dropped.
func buildTable(records [][]string) (*Table, error) {
	start := 0
	for start < len(records) && isEmptyRow(records[start]) {
		start++
	}
	if start == len(records) {
		return nil, ErrEmptyFile
	}

	headers := repairHeaders(records[start])
	table := &Table{Headers: headers}

	for _, rec := range records[start+1:] {
		if isEmptyRow(rec) {
			continue
		}
		row := make(core.RawRow, len(headers))
		for i, h := range headers {
			if i >= len(rec) {
				row[h] = core.NullValue()
				continue
			}
			row[h] = cellValue(rec[i])
		}
		table.Rows = append(table.Rows, row)
	}

	if len(table.Rows) == 0 {
		return nil, ErrNoDataRows
	}
	return table, nil
}

// repairHeaders trims header cells, names blank ones "column_N" (1-based)
// and suffixes repeats with "_2", "_3", ... so every header is unique.
func repairHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int, len(raw))

	for i, h := range raw {
		h = cleanCell(h)
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		if seen[h] > 0 {
			base := h
			for n := seen[base] + 1; ; n++ {
				candidate := base + "_" + strconv.Itoa(n)
				if seen[candidate] == 0 {
					seen[base] = n
					h = candidate
					break
				}
			}
		}
		seen[h]++
		headers[i] = h
	}
	return headers
}

// cellValue turns a text cell into a raw value. Empty cells are null;
// everything else stays a string and is typed later by coercion.
func cellValue(s string) core.Value {
	s = cleanCell(s)
	if s == "" {
		return core.NullValue()
	}
	return core.StringValue(s)
}

// cleanCell trims whitespace and unwraps the ="..." form Excel uses to
// keep leading zeros in CSV exports.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	}
	return s
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
