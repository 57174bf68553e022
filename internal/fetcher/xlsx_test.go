package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, name string, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, WriteXLSX(path, name, rows[0], rows[1:]))
	return path
}

func TestWriteReadXLSX_RoundTrip(t *testing.T) {
	path := createTestXLSX(t, "Leads", [][]string{
		{"Name", "Profile URL"},
		{"Jane Doe", "https://www.linkedin.com/in/jane"},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name", "Profile URL"}, {"Jane Doe", "https://www.linkedin.com/in/jane"}}, rows)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.True(t, f.Sheets[0].Rows[0].Cells[0].GetStyle().Font.Bold)
}

func TestReadXLSX_SheetSelection(t *testing.T) {
	path := createTestXLSX(t, "Leads", [][]string{{"h"}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Leads"})
	require.NoError(t, err)

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	require.Error(t, err)
}
