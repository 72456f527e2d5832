package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// createTestXLSX saves a workbook with one sheet per map entry. Sheet order
// follows map iteration, so tests with several sheets select by name.
func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, cells := range rows {
			row := sheet.AddRow()
			for _, text := range cells {
				row.AddCell().SetString(text)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_FirstSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"name", "address"},
			{"Holmes", "221B Baker Street"},
			{"Watson", "221B Baker Street"},
		},
	})

	rows, err := ReadXLSX(path, "")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"name", "address"}, rows[0])
	assert.Equal(t, []string{"Watson", "221B Baker Street"}, rows[2])
}

func TestReadXLSX_DropsTrailingBlankRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"address"},
			{""},
			{"221B Baker Street"},
			{"", "  "},
			{""},
		},
	})

	rows, err := ReadXLSX(path, "")
	require.NoError(t, err)
	require.Len(t, rows, 3, "only blank rows at the bottom are dropped")
	assert.Equal(t, []string{""}, rows[1])
}

func TestReadXLSX_SheetByName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Notes":     {{"ignore me"}},
		"Addresses": {{"address"}, {"10 Downing Street"}},
	})

	rows, err := ReadXLSX(path, "Addresses")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"address"}, {"10 Downing Street"}}, rows)
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"address"}}})

	_, err := ReadXLSX(path, "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}

func TestReadXLSXBytes(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Addresses": {
			{"name", "address"},
			{"Holmes", "221B Baker Street"},
		},
	})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	rows, err := ReadXLSXBytes(data, "Addresses")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Holmes", "221B Baker Street"}, rows[1])
}

func TestReadXLSXBytes_NotAWorkbook(t *testing.T) {
	_, err := ReadXLSXBytes([]byte("name,address\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open workbook")
}

func TestBlankRow(t *testing.T) {
	assert.True(t, blankRow(nil))
	assert.True(t, blankRow([]string{"", " \t"}))
	assert.False(t, blankRow([]string{"", "x"}))
}
