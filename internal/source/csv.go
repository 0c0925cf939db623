package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// readDelimited reads all records of a delimited text file. Quotes are
// parsed leniently and rows may have any number of fields.
func readDelimited(r io.Reader, comma rune, maxSize int64) ([][]string, error) {
	cr := csv.NewReader(wrapText(r, maxSize))
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("parse delimited text: %w", err)
	}
	return records, nil
}
