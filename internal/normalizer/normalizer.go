// =============================================================================
// Loyalty KPI Engine - Normalizer Module
// =============================================================================
//
// This module maps parsed export tables onto the canonical line item and
// coupon shapes.
//
// ERROR POLICY:
//   - A required field with no matching column is a SchemaError. The run
//     stops and the operator sees which fields are missing and which columns
//     the file actually has.
//   - A cell that cannot be parsed (number or date) is coerced to zero or
//     empty and the row proceeds. Coerced cells are counted per field in
//     Stats so the caller can report the loss.
//
// =============================================================================

package normalizer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/shopspring/decimal"
)

// =============================================================================
// OPTIONS, STATS AND ERRORS
// =============================================================================

// Options tunes normalization.
type Options struct {
	// Aliases adds source column aliases per canonical field name. They are
	// tried before the built-in aliases.
	Aliases map[string][]string
}

// Stats describes what normalization did to a table.
type Stats struct {
	// Rows is the number of records produced.
	Rows int

	// SkippedRows counts rows dropped for an empty primary key.
	SkippedRows int

	// DuplicateRows counts coupon rows replaced by a later row with the
	// same coupon id.
	DuplicateRows int

	// CoercedCells counts non-empty cells per field that failed to parse
	// and were replaced by a neutral value.
	CoercedCells map[Field]int

	// Columns records which source column each field was read from.
	Columns map[Field]string
}

// TotalCoerced returns the number of coerced cells across all fields.
func (s Stats) TotalCoerced() int {
	total := 0
	for _, n := range s.CoercedCells {
		total += n
	}
	return total
}

// SchemaError reports required fields that no source column matched.
type SchemaError struct {
	Source  string
	Kind    string
	Missing []Field
	Present []string
}

func (e *SchemaError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		missing[i] = string(f)
	}
	return fmt.Sprintf("%s file %s is missing required columns [%s]; columns present: [%s]",
		e.Kind, e.Source, strings.Join(missing, ", "), strings.Join(e.Present, ", "))
}

// rowReader reads typed values from one row and records coercions.
type rowReader struct {
	row     map[string]string
	columns columnMap
	stats   *Stats
}

func (r rowReader) text(field Field) string {
	header, ok := r.columns[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(r.row[header])
}

func (r rowReader) number(field Field) decimal.Decimal {
	raw := r.text(field)
	value, ok := ParseNumber(raw)
	if !ok && raw != "" {
		r.stats.CoercedCells[field]++
	}
	return value
}

func (r rowReader) optionalNumber(field Field) decimal.NullDecimal {
	raw := r.text(field)
	value, ok := ParseNumber(raw)
	if !ok {
		if raw != "" {
			r.stats.CoercedCells[field]++
		}
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value)
}

func (r rowReader) date(field Field) *time.Time {
	raw := r.text(field)
	value, ok := ParseDate(raw)
	if !ok && raw != "" {
		r.stats.CoercedCells[field]++
	}
	return value
}

func newStats(columns columnMap) Stats {
	return Stats{CoercedCells: map[Field]int{}, Columns: columns}
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// NormalizeLineItems maps a transaction export to canonical line items.
//
// PARAMETERS:
//   - table: The parsed transaction export.
//   - opts: Extra column aliases.
//
// RETURNS:
//   - The line items in file order.
//   - Statistics about skipped rows and coerced cells.
//   - A *SchemaError if a required field has no matching column.
func NormalizeLineItems(table *types.Table, opts Options) ([]types.LineItem, Stats, error) {
	columns, missing := resolveColumns(lineItemSchema, table.Headers, opts.Aliases)
	if len(missing) > 0 {
		return nil, Stats{}, &SchemaError{Source: table.Source, Kind: "transactions", Missing: missing, Present: table.Headers}
	}

	stats := newStats(columns)
	hasLineType := columns.has(FieldLineType)
	items := make([]types.LineItem, 0, len(table.Rows))

	for i, row := range table.Rows {
		r := rowReader{row: row, columns: columns, stats: &stats}

		id := r.text(FieldTransactionID)
		if id == "" {
			stats.SkippedRows++
			continue
		}

		item := types.LineItem{
			TransactionID:         id,
			OrganizationID:        r.text(FieldOrganizationID),
			CustomerID:            r.text(FieldCustomerID),
			ValidationDate:        r.date(FieldValidationDate),
			GrossAmountExclTax:    r.number(FieldGrossAmountExclTax),
			PurchasingCostExclTax: r.number(FieldPurchasingCostExclTax),
			Quantity:              r.number(FieldQuantity),
			TotalAmountInclTax:    r.number(FieldTotalAmountInclTax),
			TenderLabel:           r.text(FieldTenderLabel),
			TenderAmount:          r.optionalNumber(FieldTenderAmount),
			ProductID:             r.text(FieldProductID),
			Label:                 r.text(FieldLabel),
			SourceRow:             sourceRow(table, i),
		}

		if hasLineType {
			item.LineType = ClassifyLineType(r.text(FieldLineType))
		} else if item.TenderLabel != "" {
			item.LineType = types.LineTender
		} else {
			item.LineType = types.LineProductSale
		}

		items = append(items, item)
	}

	stats.Rows = len(items)
	return items, stats, nil
}

// ClassifyLineType maps a source line type value to a LineType.
func ClassifyLineType(raw string) types.LineType {
	switch Canonicalize(raw) {
	case "productsale", "sale", "product", "article", "vente":
		return types.LineProductSale
	case "tender", "payment", "paiement", "reglement":
		return types.LineTender
	default:
		return types.LineOther
	}
}

// =============================================================================
// COUPONS
// =============================================================================

// NormalizeCoupons maps a coupon export to canonical coupons. When a coupon
// id appears more than once, the last row wins and keeps its first position.
//
// PARAMETERS:
//   - table: The parsed coupon export.
//   - opts: Extra column aliases.
//
// RETURNS:
//   - The coupons, one per coupon id.
//   - Statistics about skipped, duplicate and coerced data.
//   - A *SchemaError if a required field has no matching column.
func NormalizeCoupons(table *types.Table, opts Options) ([]types.Coupon, Stats, error) {
	columns, missing := resolveColumns(couponSchema, table.Headers, opts.Aliases)
	if len(missing) > 0 {
		return nil, Stats{}, &SchemaError{Source: table.Source, Kind: "coupons", Missing: missing, Present: table.Headers}
	}

	stats := newStats(columns)
	coupons := make([]types.Coupon, 0, len(table.Rows))
	index := make(map[string]int, len(table.Rows))

	for _, row := range table.Rows {
		r := rowReader{row: row, columns: columns, stats: &stats}

		id := r.text(FieldCouponID)
		if id == "" {
			stats.SkippedRows++
			continue
		}

		coupon := types.NewCoupon(
			id,
			r.text(FieldOrganizationID),
			r.date(FieldEmissionDate),
			r.date(FieldUseDate),
			r.number(FieldAmountInitial),
			r.number(FieldAmountRemaining),
		)

		if pos, seen := index[id]; seen {
			coupons[pos] = coupon
			stats.DuplicateRows++
			continue
		}
		index[id] = len(coupons)
		coupons = append(coupons, coupon)
	}

	stats.Rows = len(coupons)
	return coupons, stats, nil
}

// =============================================================================
// STOCK LINES
// =============================================================================

// NormalizeStockLines maps a stock file to stock lines. A quantity that does
// not parse is left invalid rather than zero, so valuation can drop the row.
func NormalizeStockLines(table *types.Table, opts Options) ([]types.StockLine, Stats, error) {
	columns, missing := resolveColumns(stockSchema, table.Headers, opts.Aliases)
	if len(missing) > 0 {
		return nil, Stats{}, &SchemaError{Source: table.Source, Kind: "stock", Missing: missing, Present: table.Headers}
	}

	stats := newStats(columns)
	lines := make([]types.StockLine, 0, len(table.Rows))

	for i, row := range table.Rows {
		r := rowReader{row: row, columns: columns, stats: &stats}

		sku := NormalizeSKU(r.text(FieldSKU))
		if sku == "" {
			stats.SkippedRows++
			continue
		}

		lines = append(lines, types.StockLine{
			SKU:            sku,
			OrganizationID: r.text(FieldOrganizationID),
			Quantity:       r.optionalNumber(FieldQuantity),
			SourceRow:      sourceRow(table, i),
		})
	}

	stats.Rows = len(lines)
	return lines, stats, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sourceRow returns the file row number of table row i, or i+2 (header on
// row 1) when the reader did not record row numbers.
func sourceRow(table *types.Table, i int) int {
	if i < len(table.RowNumbers) {
		return table.RowNumbers[i]
	}
	return i + 2
}

// CoercedSummary renders coerced cell counts as sorted "field=n" pairs for
// log messages.
func CoercedSummary(stats Stats) string {
	fields := make([]string, 0, len(stats.CoercedCells))
	for f, n := range stats.CoercedCells {
		if n > 0 {
			fields = append(fields, fmt.Sprintf("%s=%d", f, n))
		}
	}
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
