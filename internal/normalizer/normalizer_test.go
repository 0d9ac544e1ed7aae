package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(headers []string, rows ...[]string) *types.Table {
	t := &types.Table{Headers: headers, Source: "test.csv"}
	for i, values := range rows {
		row := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(values) {
				row[h] = values[j]
			}
		}
		t.Rows = append(t.Rows, row)
		t.RowNumbers = append(t.RowNumbers, i+2)
	}
	return t
}

var txHeaders = []string{
	"Operation ID", "Validation Date", "Organisation ID", "CustomerId",
	"LineGrossAmount", "LineTotalPurchasingAmount", "Quantity", "TotalAmountTTC",
	"Line Type", "Tender Label",
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "organisationid", Canonicalize("Organisation ID"))
	assert.Equal(t, "montanthtligne", Canonicalize("Montant HT (ligne)"))
	assert.Equal(t, "quantite", Canonicalize("Quantité"))
	assert.Equal(t, "", Canonicalize(" - "))
}

func TestNormalizeLineItems(t *testing.T) {
	tbl := table(txHeaders,
		[]string{"T1", "2024-01-15 10:30:00", "S1", "C1", "40,00", "25", "2", "50", "PRODUCT_SALE", ""},
		[]string{"T1", "15/01/2024", "S1", "", "", "", "", "50", "Tender", "COUPON"},
		[]string{"", "2024-01-15", "S1", "", "1", "1", "1", "1", "SALE", ""},
		[]string{"T2", "not a date", "S2", "", "abc", "1", "1", "12", "discount", ""},
	)

	items, stats, err := NormalizeLineItems(tbl, Options{})
	require.NoError(t, err)
	require.Len(t, items, 3)

	first := items[0]
	assert.Equal(t, "T1", first.TransactionID)
	assert.Equal(t, "S1", first.OrganizationID)
	assert.Equal(t, "C1", first.CustomerID)
	require.NotNil(t, first.ValidationDate)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), *first.ValidationDate)
	assert.Equal(t, types.LineProductSale, first.LineType)
	assert.Equal(t, "40", first.GrossAmountExclTax.String())
	assert.Equal(t, 2, first.SourceRow)

	assert.Equal(t, types.LineTender, items[1].LineType)
	assert.Equal(t, "COUPON", items[1].TenderLabel)

	assert.Equal(t, types.LineOther, items[2].LineType)
	assert.Nil(t, items[2].ValidationDate)
	assert.True(t, items[2].GrossAmountExclTax.IsZero())

	assert.Equal(t, 1, stats.SkippedRows)
	assert.Equal(t, 1, stats.CoercedCells[FieldValidationDate])
	assert.Equal(t, 1, stats.CoercedCells[FieldGrossAmountExclTax])
	assert.Equal(t, 0, stats.CoercedCells[FieldQuantity], "empty cells are not coercions")
	assert.Equal(t, "Operation ID", stats.Columns[FieldTransactionID])
}

func TestNormalizeLineItems_InferLineTypeWithoutColumn(t *testing.T) {
	headers := []string{"TransactionID", "Date", "OrganizationID", "LineGrossAmount", "CostPrice", "TotalTTC", "PaymentMethod"}
	tbl := table(headers,
		[]string{"T1", "2024-02-01", "S1", "10", "4", "12", ""},
		[]string{"T1", "2024-02-01", "S1", "", "", "12", "CB"},
	)

	items, _, err := NormalizeLineItems(tbl, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.LineProductSale, items[0].LineType)
	assert.Equal(t, types.LineTender, items[1].LineType)
}

func TestNormalizeLineItems_SchemaError(t *testing.T) {
	tbl := table([]string{"TransactionID", "Date", "Amount"}, []string{"T1", "2024-01-01", "3"})

	_, _, err := NormalizeLineItems(tbl, Options{})
	require.Error(t, err)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []Field{
		FieldOrganizationID, FieldGrossAmountExclTax, FieldPurchasingCostExclTax, FieldTotalAmountInclTax,
	}, schemaErr.Missing)
	assert.Equal(t, []string{"TransactionID", "Date", "Amount"}, schemaErr.Present)
	assert.Contains(t, err.Error(), "columns present")
}

func TestNormalizeLineItems_ConfigAliasesTakePriority(t *testing.T) {
	headers := []string{"N Ticket", "TransactionID", "Date", "OrganizationID", "LineGrossAmount", "CostPrice", "TotalTTC"}
	tbl := table(headers, []string{"A-1", "X", "2024-02-01", "S1", "1", "1", "1"})

	items, _, err := NormalizeLineItems(tbl, Options{Aliases: map[string][]string{"transaction_id": {"n_ticket"}}})
	require.NoError(t, err)
	assert.Equal(t, "A-1", items[0].TransactionID)
}

func TestResolveColumns_ClaimedColumnNotReused(t *testing.T) {
	overrides := map[string][]string{string(FieldAmountInitial): {"Amount"}}
	columns, missing := resolveColumns(couponSchema, []string{"CouponID", "OrganisationID", "Amount"}, overrides)
	assert.Empty(t, missing)
	assert.Equal(t, "Amount", columns[FieldAmountInitial])
	assert.False(t, columns.has(FieldAmountRemaining))
}

func TestNormalizeCoupons_BareAmountIsRemainingBalance(t *testing.T) {
	tbl := table([]string{"CouponID", "OrganisationID", "UseDate", "Amount"},
		[]string{"C1", "S1", "2024-02-05", "4"},
	)

	coupons, _, err := NormalizeCoupons(tbl, Options{})
	require.NoError(t, err)
	require.Len(t, coupons, 1)
	assert.True(t, coupons[0].AmountInitial.IsZero())
	assert.Equal(t, "4", coupons[0].AmountRemaining.String())
	assert.True(t, coupons[0].ValueUsed.IsZero(), "a remaining balance is never reported as used")
}

func TestNormalizeCoupons(t *testing.T) {
	headers := []string{"CouponID", "OrganisationID", "CreationDate", "UseDate", "InitialValue", "Amount"}
	tbl := table(headers,
		[]string{"C1", "S1", "2024-01-02", "", "10", "10"},
		[]string{"C2", "S1", "2024-01-02", "2024-02-05", "10", "15"},
		[]string{"C1", "S1", "2024-01-02", "2024-02-01", "10", "4"},
		[]string{"", "S1", "", "", "1", "1"},
	)

	coupons, stats, err := NormalizeCoupons(tbl, Options{})
	require.NoError(t, err)
	require.Len(t, coupons, 2)

	assert.Equal(t, "C1", coupons[0].CouponID)
	assert.Equal(t, "6", coupons[0].ValueUsed.String())
	assert.True(t, coupons[0].IsUsed)
	require.NotNil(t, coupons[0].UseDate)

	assert.True(t, coupons[1].ValueUsed.IsZero(), "value used is clamped at zero")
	assert.False(t, coupons[1].IsUsed)

	assert.Equal(t, 1, stats.DuplicateRows)
	assert.Equal(t, 1, stats.SkippedRows)
	assert.Equal(t, 2, stats.Rows)
}

func TestNormalizeCoupons_SchemaError(t *testing.T) {
	_, _, err := NormalizeCoupons(table([]string{"Code", "Store"}), Options{})

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "coupons", schemaErr.Kind)
}

func TestClassifyLineType(t *testing.T) {
	assert.Equal(t, types.LineProductSale, ClassifyLineType("Vente"))
	assert.Equal(t, types.LineProductSale, ClassifyLineType("product_sale"))
	assert.Equal(t, types.LineTender, ClassifyLineType("Règlement"))
	assert.Equal(t, types.LineOther, ClassifyLineType(""))
}

func TestCoercedSummary(t *testing.T) {
	stats := Stats{CoercedCells: map[Field]int{FieldQuantity: 2, FieldLabel: 0, FieldUseDate: 1}}
	assert.Equal(t, "quantity=2 use_date=1", CoercedSummary(stats))
	assert.Equal(t, 3, stats.TotalCoerced())
}

func TestNormalizeStockLines(t *testing.T) {
	tbl := table([]string{"sku", "quantity", "organisationId"},
		[]string{"1001.0", "3", "S1"},
		[]string{"1002", "n/a", "S1"},
		[]string{"", "4", "S1"},
	)

	lines, stats, err := NormalizeStockLines(tbl, Options{})
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, "1001", lines[0].SKU)
	assert.Equal(t, "S1", lines[0].OrganizationID)
	require.True(t, lines[0].Quantity.Valid)
	assert.Equal(t, "3", lines[0].Quantity.Decimal.String())
	assert.False(t, lines[1].Quantity.Valid)
	assert.Equal(t, 1, stats.SkippedRows)
	assert.Equal(t, 1, stats.CoercedCells[FieldQuantity])

	_, _, err = NormalizeStockLines(table([]string{"sku", "qty"}), Options{})
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []Field{FieldOrganizationID}, schemaErr.Missing)
}
