// =============================================================================
// Loyalty KPI Engine - XLSX Parser
// =============================================================================
//
// This module reads XLSX workbooks into the same Table shape the CSV parser
// produces. It is used for:
//   - The product base (SKU, purchasing price, brand) used by stock valuation
//   - Transaction or coupon exports delivered as workbooks instead of CSV
//
// SHEET STRUCTURE (Expected Layout):
//   The first row of the sheet holds the headers, data starts on row 2.
//
//   | Column A | Column B        | Column C |
//   |----------|-----------------|----------|
//   | SKU      | PurchasingPrice | Brand    |
//   | 1000123  | 12,40           | ACME     |
//   | 1000124  | 3.10            | ACME     |
//
// CUSTOMIZATION:
//   - Pass a ProductColumns value to match a product base with other headers
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/loyalty-kpi/internal/normalizer"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// PRODUCT COLUMN CONFIGURATION
// =============================================================================

// ProductColumns names the product base headers. Matching is case-insensitive.
type ProductColumns struct {
	// SKU is the product reference joined against stock rows.
	// Default: "SKU"
	SKU string

	// PurchasingPrice is the unit cost used for valuation.
	// Default: "PurchasingPrice"
	PurchasingPrice string

	// Brand groups valuations.
	// Default: "Brand"
	Brand string
}

// DefaultProductColumns returns the default product base headers.
func DefaultProductColumns() ProductColumns {
	return ProductColumns{
		SKU:             "SKU",
		PurchasingPrice: "PurchasingPrice",
		Brand:           "Brand",
	}
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads one sheet of an XLSX workbook.
//
// PARAMETERS:
//   - path: The path to the XLSX file.
//   - sheet: The sheet name. Empty means the first sheet.
//
// RETURNS:
//   - A pointer to the parsed table (first row as headers).
//   - An error if the file cannot be opened or the sheet is missing.
func Parse(path, sheet string) (*types.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
		if sheet == "" {
			return nil, fmt.Errorf("workbook has no sheets")
		}
	}

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found in %s", sheet, path)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	table, err := rowsToTable(rows)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	table.Source = path

	return table, nil
}

// rowsToTable converts raw sheet rows into a Table. excelize trims trailing
// empty cells, so short rows are padded.
func rowsToTable(rows [][]string) (*types.Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet is empty")
	}

	headers := make([]string, len(rows[0]))
	seen := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		seen[header]++
		if n := seen[header]; n > 1 {
			header = fmt.Sprintf("%s_%d", header, n)
		}
		headers[i] = header
	}

	table := &types.Table{Headers: headers}
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isRowEmpty(row) {
			continue
		}

		rowMap := make(map[string]string, len(headers))
		for col, header := range headers {
			if col < len(row) {
				rowMap[header] = strings.TrimSpace(row[col])
			} else {
				rowMap[header] = ""
			}
		}
		table.Rows = append(table.Rows, rowMap)
		table.RowNumbers = append(table.RowNumbers, i+1)
	}

	return table, nil
}

// ParseProducts reads the product base workbook.
//
// PARAMETERS:
//   - path: The path to the product base XLSX file.
//   - columns: The product base headers.
//
// RETURNS:
//   - The products in file order. Rows without a SKU are skipped; an
//     unparsable price is left at zero and flagged by PriceMissing.
//   - An error if the workbook cannot be read or a header is missing.
func ParseProducts(path string, columns ProductColumns) ([]types.Product, error) {
	table, err := Parse(path, "")
	if err != nil {
		return nil, err
	}

	skuCol, err := findHeader(table.Headers, columns.SKU)
	if err != nil {
		return nil, err
	}
	priceCol, err := findHeader(table.Headers, columns.PurchasingPrice)
	if err != nil {
		return nil, err
	}
	brandCol, err := findHeader(table.Headers, columns.Brand)
	if err != nil {
		return nil, err
	}

	products := make([]types.Product, 0, len(table.Rows))
	for _, row := range table.Rows {
		sku := normalizer.NormalizeSKU(row[skuCol])
		if sku == "" {
			continue
		}

		price, ok := normalizer.ParseNumber(row[priceCol])
		products = append(products, types.Product{
			SKU:             sku,
			PurchasingPrice: price,
			PriceMissing:    !ok,
			Brand:           row[brandCol],
		})
	}

	return products, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// findHeader returns the actual header matching name case-insensitively.
func findHeader(headers []string, name string) (string, error) {
	for _, header := range headers {
		if strings.EqualFold(header, name) {
			return header, nil
		}
	}
	return "", fmt.Errorf("product base is missing column %q (have %s)", name, strings.Join(headers, ", "))
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
