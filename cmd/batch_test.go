package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companies.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseBatchCSV(t *testing.T) {
	path := writeCSV(t, "recordId,name,domain\n111,Acme Corp,acme.com\n222,Beta LLC,\n")

	rows, err := parseBatchCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "111", rows[0].recordID)
	assert.Equal(t, "Acme Corp", rows[0].company["name"])
	assert.Equal(t, "acme.com", rows[0].company["domain"])

	// Empty cells are not carried into the record.
	assert.Equal(t, "222", rows[1].recordID)
	_, hasDomain := rows[1].company["domain"]
	assert.False(t, hasDomain)
}

func TestParseBatchCSVHeaderCaseInsensitive(t *testing.T) {
	path := writeCSV(t, "RECORDID,name\n111,Acme\n")
	rows, err := parseBatchCSV(path)
	require.NoError(t, err)
	assert.Equal(t, "111", rows[0].recordID)
}

func TestParseBatchCSVMissingRecordIDColumn(t *testing.T) {
	path := writeCSV(t, "name,domain\nAcme,acme.com\n")
	_, err := parseBatchCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recordId column")
}

func TestParseBatchCSVMissingRowID(t *testing.T) {
	path := writeCSV(t, "recordId,name\n,Acme\n")
	_, err := parseBatchCSV(path)
	assert.Error(t, err)
}

func TestParseBatchCSVEmptyCompanyRejected(t *testing.T) {
	path := writeCSV(t, "recordId,name\n111,\n")
	_, err := parseBatchCSV(path)
	assert.Error(t, err)
}

func TestParseBatchCSVNoRows(t *testing.T) {
	path := writeCSV(t, "recordId,name\n")
	_, err := parseBatchCSV(path)
	assert.Error(t, err)
}
