package xlsxparser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestParse_FirstSheet(t *testing.T) {
	path := writeWorkbook(t, "Export", [][]any{
		{"Transaction ID", "Amount", "Amount"},
		{"T1", "10", "11"},
		{},
		{"T2"},
	})

	table, err := Parse(path, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Transaction ID", "Amount", "Amount_2"}, table.Headers)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "11", table.Rows[0]["Amount_2"])
	assert.Equal(t, "", table.Rows[1]["Amount"])
	assert.Equal(t, []int{2, 4}, table.RowNumbers)
}

func TestParse_MissingSheet(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", [][]any{{"a"}})

	_, err := Parse(path, "Nope")
	assert.ErrorContains(t, err, "not found")
}

func TestParseProducts(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", [][]any{
		{"sku", "PURCHASINGPRICE", "Brand"},
		{"1000123", "12,40", "ACME"},
		{"1000124.0", "n/a", "ACME"},
		{"", "1", "Ghost"},
	})

	products, err := ParseProducts(path, DefaultProductColumns())
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "1000123", products[0].SKU)
	assert.Equal(t, "12.4", products[0].PurchasingPrice.String())
	assert.False(t, products[0].PriceMissing)

	assert.Equal(t, "1000124", products[1].SKU)
	assert.True(t, products[1].PriceMissing)
}

func TestParseProducts_MissingColumn(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", [][]any{{"SKU", "Brand"}, {"1", "A"}})

	_, err := ParseProducts(path, DefaultProductColumns())
	assert.ErrorContains(t, err, "PurchasingPrice")
}
