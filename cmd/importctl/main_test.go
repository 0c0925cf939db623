package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabimport/internal/core"
)

const itemsCSV = "SKU,Name,Cost Price,Unit Price\nA1,Widget,5,10\n,Gadget,1,2\n"

// run executes importctl with a fresh SQLite store per test.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("STORE_DRIVER", "sqlite")
	if os.Getenv("DATABASE_URL") == "" {
		t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "records.db"))
	}
	t.Setenv("LOG_LEVEL", "error")

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEntities(t *testing.T) {
	out, err := run(t, "entities")
	require.NoError(t, err)
	assert.Contains(t, out, "inventory")
	assert.Contains(t, out, "employees")
	assert.Contains(t, out, "assets")

	out, err = run(t, "entities", "inventory")
	require.NoError(t, err)
	assert.Contains(t, out, "unit_price")

	out, err = run(t, "entities", "inventory", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "natural_key: sku")

	_, err = run(t, "entities", "widgets")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
	assert.Contains(t, err.Error(), "ENT001")
}

func TestTemplate(t *testing.T) {
	out, err := run(t, "template", "inventory")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sku,name,"))

	dest := filepath.Join(t.TempDir(), "inv.csv")
	_, err = run(t, "template", "inventory", "-o", dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))
}

func TestMap(t *testing.T) {
	path := writeFile(t, "items.csv", itemsCSV)

	out, err := run(t, "map", "inventory", path, "--json")
	require.NoError(t, err)

	var mappings []core.ColumnMapping
	require.NoError(t, json.Unmarshal([]byte(out), &mappings))
	require.Len(t, mappings, 4)
	assert.Equal(t, "sku", mappings[0].TargetField)

	out, err = run(t, "map", "inventory", writeFile(t, "qty.csv", "Qty\n4\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "unmapped required fields: SKU, Name")
}

func TestMap_UnreadableFile(t *testing.T) {
	_, err := run(t, "map", "inventory", filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestValidate(t *testing.T) {
	path := writeFile(t, "items.csv", itemsCSV)

	out, err := run(t, "validate", "inventory", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 rows, 1 valid, 1 invalid")
	assert.Contains(t, out, "line 3: SKU is required")

	_, err = run(t, "validate", "inventory", path, "--strict")
	require.Error(t, err)
	assert.Equal(t, exitInvalidRows, exitCode(err))
}

func TestValidate_Overrides(t *testing.T) {
	path := writeFile(t, "items.csv", itemsCSV)

	_, err := run(t, "validate", "inventory", path, "--override", "Name=")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
	assert.Contains(t, err.Error(), "MAP001")

	_, err = run(t, "validate", "inventory", path, "--override", "Name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAP002")

	mapping := writeFile(t, "mapping.json", `[{"source_column":"SKU","target_field":"sku"},{"source_column":"Name","target_field":"name"}]`)
	out, err := run(t, "validate", "inventory", path, "--mapping", mapping, "--json")
	require.NoError(t, err)

	var report validateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Valid)
	for _, m := range report.Mappings {
		if m.SourceColumn == "Unit Price" {
			assert.False(t, m.Mapped(), "columns left out of --mapping stay unmapped")
		}
	}
}

func TestImport(t *testing.T) {
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "records.db"))
	path := writeFile(t, "items.csv", itemsCSV)

	_, err := run(t, "import", "inventory", path)
	require.Error(t, err, "tenant is required")

	out, err := run(t, "import", "inventory", path, "--tenant", "acme", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 new, 0 updates, 1 invalid")

	out, err = run(t, "import", "inventory", path, "--tenant", "acme", "--json")
	require.NoError(t, err)
	var report importReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotNil(t, report.Batch)
	assert.Equal(t, 1, report.Batch.Added)
	assert.Equal(t, 1, report.Invalid)

	out, err = run(t, "import", "inventory", path, "--tenant", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "0 added, 1 updated")

	out, err = run(t, "import", "inventory", path, "--tenant", "acme", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 new, 1 updates")
}

func TestArchive(t *testing.T) {
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "records.db"))
	path := writeFile(t, "items.csv", itemsCSV)

	_, err := run(t, "import", "inventory", path, "--tenant", "acme")
	require.NoError(t, err)

	keys := writeFile(t, "keys.txt", "A1\n\nZ9\n")
	out, err := run(t, "archive", "inventory", "--tenant", "acme", "--from-file", keys)
	require.NoError(t, err)
	assert.Contains(t, out, "inventory: 1 archived, 1 not found")
	assert.Contains(t, out, "not found: Z9")

	out, err = run(t, "import", "inventory", path, "--tenant", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "1 added, 0 updated", "archived keys import as new records")

	_, err = run(t, "archive", "inventory", "--tenant", "acme")
	assert.Equal(t, exitUsage, exitCode(err))

	_, err = run(t, "archive", "widgets", "A1", "--tenant", "acme")
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestPrintImportReport_AccessDenied(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)

	report := importReport{
		Entity: "inventory",
		Tenant: "acme",
		Batch: &core.ImportBatchResult{
			Total:      5,
			Failed:     5,
			Diagnostic: core.ErrInsufficientPermission.Error(),
		},
	}
	require.NoError(t, printImportReport(&cli{}, cmd, report))

	text := out.String()
	assert.Contains(t, text, "inventory: 0 added, 0 updated, 5 failed")
	assert.Equal(t, 1, strings.Count(text, "insufficient permission to import (5 rows)"))
	assert.NotContains(t, text, "permission denied")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("x")))
	assert.Equal(t, exitInvalidRows, exitCode(userError(withCode(exitInvalidRows, errors.New("x")))))
}
