package source

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tabimport/internal/core"
)

func TestFormatOf(t *testing.T) {
	cases := map[string]Format{
		"items.csv":      FormatCSV,
		"ITEMS.CSV":      FormatCSV,
		"export.txt":     FormatCSV,
		"export.tsv":     FormatTSV,
		"book.xlsx":      FormatXLSX,
		"book.xlsm":      FormatXLSX,
		"dir/a.b/c.xlsx": FormatXLSX,
	}
	for name, want := range cases {
		got, ok := FormatOf(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := FormatOf("notes.pdf")
	assert.False(t, ok)
}

func TestDecodeCSV(t *testing.T) {
	input := "\xEF\xBB\xBFProduct Code,Item Name,Qty\n" +
		"SKU-001,Widget,5\n" +
		"\n" +
		",,\n" +
		"=\"00042\",\"Gadget, large\",\n" +
		"SKU-003,Short\n"

	table, err := Decode("items.csv", strings.NewReader(input), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"Product Code", "Item Name", "Qty"}, table.Headers)
	require.Len(t, table.Rows, 3)

	assert.Equal(t, "SKU-001", table.Rows[0]["Product Code"].String())
	assert.Equal(t, "5", table.Rows[0]["Qty"].String())

	assert.Equal(t, "00042", table.Rows[1]["Product Code"].String())
	assert.Equal(t, "Gadget, large", table.Rows[1]["Item Name"].String())
	assert.True(t, table.Rows[1]["Qty"].IsNull())

	assert.True(t, table.Rows[2]["Qty"].IsNull(), "short rows are padded with nulls")
}

func TestDecodeTSV(t *testing.T) {
	input := "asset_tag\tname\nA-1\tLaptop\n"

	table, err := Decode("assets.tsv", strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"asset_tag", "name"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Laptop", table.Rows[0]["name"].String())
}

func TestDecode_LongMultibyteLine(t *testing.T) {
	// Shifting the text by one byte at a time puts a two-byte rune across
	// every 4 KB read boundary the CSV reader uses.
	desc := strings.Repeat("é", 3000)
	for pad := 0; pad < 8; pad++ {
		prefix := strings.Repeat("x", pad)
		input := "sku,name,description\nA1,Widget," + prefix + desc + "\n"

		table, err := Decode("items.csv", strings.NewReader(input), 0)
		require.NoError(t, err, "pad %d", pad)
		require.Len(t, table.Rows, 1, "pad %d", pad)
		assert.Equal(t, prefix+desc, table.Rows[0]["description"].String(), "pad %d", pad)
	}
}

func TestDecode_HeaderRepair(t *testing.T) {
	input := "name,,name,name,column_2\na,b,c,d,e\n"

	table, err := Decode("x.csv", strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "column_2", "name_2", "name_3", "column_2_2"}, table.Headers)
	assert.Equal(t, "c", table.Rows[0]["name_2"].String())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		input   string
		maxSize int64
		want    error
	}{
		{"unsupported", "notes.pdf", "x", 0, ErrUnsupportedType},
		{"empty", "a.csv", "", 0, ErrEmptyFile},
		{"blank lines only", "a.csv", "\n , \n", 0, ErrEmptyFile},
		{"header only", "a.csv", "sku,name\n", 0, ErrNoDataRows},
		{"too large", "a.csv", "sku,name\n" + strings.Repeat("a,b\n", 100), 64, ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, strings.NewReader(tt.input), tt.maxSize)
			require.Error(t, err)

			var fpe *core.FileParseError
			require.True(t, errors.As(err, &fpe), "want *core.FileParseError, got %T", err)
			assert.Equal(t, tt.file, fpe.FileName)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "could not read file")
		})
	}
}

func TestDecode_ErrorCodes(t *testing.T) {
	_, err := Decode("a.csv", strings.NewReader(""), 0)
	assert.Equal(t, "FILE005", core.MapError(err).Code)

	_, err = Decode("a.doc", strings.NewReader("x"), 0)
	assert.Equal(t, "FILE006", core.MapError(err).Code)

	_, err = Decode("a.xlsx", strings.NewReader("not a zip"), 0)
	assert.Equal(t, "FILE002", core.MapError(err).Code)
}

func workbook(t *testing.T, sheets map[string][][]any, order []string) *bytes.Buffer {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestDecodeXLSX(t *testing.T) {
	buf := workbook(t, map[string][][]any{
		"Cover": {},
		"Data": {
			{"Employee #", "First Name", "Last Name", "Salary"},
			{"E-100", "Ada", "Lovelace", 5200},
			{nil, nil, nil, nil},
			{"E-101", "Alan", "Turing", nil},
		},
	}, []string{"Cover", "Data"})

	table, err := Decode("staff.xlsx", buf, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"Employee #", "First Name", "Last Name", "Salary"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Ada", table.Rows[0]["First Name"].String())
	assert.Equal(t, "5200", table.Rows[0]["Salary"].String())
	assert.True(t, table.Rows[1]["Salary"].IsNull())
}

func TestDecodeXLSX_TooLarge(t *testing.T) {
	buf := workbook(t, map[string][][]any{
		"Data": {{"sku"}, {"A"}},
	}, []string{"Data"})

	_, err := Decode("big.xlsx", buf, 16)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, "FILE001", core.MapError(err).Code)
}
