package core

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// WriteTemplate writes a CSV template for s: a header row of field keys in
// declared order followed by one example row. The keys match their fields
// exactly, so a filled-in template maps with full confidence.
func WriteTemplate(w io.Writer, s *schema.Schema) error {
	fields := s.Fields()
	header := make([]string, len(fields))
	example := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Key
		example[i] = f.Example
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write template header: %w", err)
	}
	if err := cw.Write(example); err != nil {
		return fmt.Errorf("write template example: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// Template returns the CSV template for s as bytes.
func Template(s *schema.Schema) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTemplate(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TemplateFileName is the suggested download name for an entity template.
func TemplateFileName(s *schema.Schema) string {
	return s.Entity() + "_template.csv"
}
