// =============================================================================
// Loyalty KPI Engine - Shared Types
// =============================================================================
//
// This package contains the domain types shared by the readers, normalizers,
// aggregator, store, and KPI engine. Keeping them here avoids import cycles
// between those packages.
//
// TYPES:
//   - Table      : a parsed tabular file (CSV or XLSX sheet)
//   - LineItem   : one normalized row of a POS transaction export
//   - Ticket     : one commercial transaction, aggregated from line items
//   - Coupon     : one voucher record with its usage state
//   - Product    : one product base entry (price and brand per SKU)
//   - StockLine  : one row of a store stock file
//
// =============================================================================

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TABULAR INPUT
// =============================================================================

// Table is a parsed tabular file. Rows are keyed by header.
type Table struct {
	// Headers contains the cleaned column headers in file order.
	Headers []string

	// Rows contains the data rows as maps of header -> value.
	Rows []map[string]string

	// RowNumbers holds the 1-based source row number of each entry in Rows.
	RowNumbers []int

	// Source is the path (or name) the table was read from.
	Source string
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// LineType classifies a line of a transaction export.
type LineType string

const (
	// LineProductSale lines carry revenue and cost for a sold item.
	LineProductSale LineType = "PRODUCT_SALE"

	// LineTender lines carry a payment method and amount.
	LineTender LineType = "TENDER"

	// LineOther covers everything else (discounts, comments, deposits).
	LineOther LineType = "OTHER"
)

// LineItem is one normalized row of a transaction export.
type LineItem struct {
	TransactionID  string
	OrganizationID string
	CustomerID     string
	ValidationDate *time.Time
	LineType       LineType

	GrossAmountExclTax    decimal.Decimal
	PurchasingCostExclTax decimal.Decimal
	Quantity              decimal.Decimal

	// TotalAmountInclTax is the ticket total repeated on each line.
	// It must never be summed across a ticket's lines.
	TotalAmountInclTax decimal.Decimal

	TenderLabel  string
	TenderAmount decimal.NullDecimal

	ProductID string
	Label     string

	// SourceRow is the row number in the source file.
	SourceRow int
}

// =============================================================================
// TICKETS
// =============================================================================

// Ticket is one commercial transaction. Tickets are immutable once stored.
type Ticket struct {
	TransactionID  string
	OrganizationID string

	// CustomerID is empty for anonymous sales.
	CustomerID     string
	ValidationDate time.Time
	Month          string

	TotalInclTax          decimal.Decimal
	TotalExclTax          decimal.Decimal
	PurchasingCostExclTax decimal.Decimal
	QuantityTotal         decimal.Decimal

	HasCoupon          bool
	AmountPaidByCoupon decimal.Decimal
	NetMarginExclTax   decimal.Decimal
}

// HasCustomer reports whether the ticket is attached to an identified customer.
func (t Ticket) HasCustomer() bool {
	return t.CustomerID != ""
}

// =============================================================================
// COUPONS
// =============================================================================

// Coupon is a voucher record. A newer record with the same CouponID replaces
// the stored one.
type Coupon struct {
	CouponID       string
	OrganizationID string
	EmissionDate   *time.Time
	UseDate        *time.Time

	AmountInitial   decimal.Decimal
	AmountRemaining decimal.Decimal
	ValueUsed       decimal.Decimal
	IsUsed          bool
}

// NewCoupon builds a coupon and derives its usage fields.
func NewCoupon(id, org string, emission, use *time.Time, initial, remaining decimal.Decimal) Coupon {
	used := initial.Sub(remaining)
	if used.IsNegative() {
		used = decimal.Zero
	}
	return Coupon{
		CouponID:        id,
		OrganizationID:  org,
		EmissionDate:    emission,
		UseDate:         use,
		AmountInitial:   initial,
		AmountRemaining: remaining,
		ValueUsed:       used,
		IsUsed:          used.IsPositive(),
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

// Product is one entry of the product base used for stock valuation.
type Product struct {
	SKU             string
	PurchasingPrice decimal.Decimal
	Brand           string

	// PriceMissing is set when the price cell was empty or unparsable.
	PriceMissing bool
}

// StockLine is one row of a store stock file.
type StockLine struct {
	SKU            string
	OrganizationID string

	// Quantity is invalid when the cell was empty or unparsable.
	Quantity decimal.NullDecimal

	SourceRow int
}
