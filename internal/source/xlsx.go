package source

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// readWorkbook returns the rows of the first sheet that has any non-empty
// row. Cells are read as displayed, so dates and numbers arrive in the
// format the author chose and are typed later by coercion.
func readWorkbook(r io.Reader, maxSize int64) ([][]string, error) {
	data, err := io.ReadAll(newSizeLimiter(r, maxSize))
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			if !isEmptyRow(row) {
				return rows, nil
			}
		}
	}
	return nil, ErrEmptyFile
}
