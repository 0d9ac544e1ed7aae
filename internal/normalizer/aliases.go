// =============================================================================
// Loyalty KPI Engine - Column Alias Table
// =============================================================================
//
// POS exports rename their columns between versions and between stores. The
// normalizers resolve each canonical field against an ordered list of known
// source aliases, once per file.
//
// MATCHING RULES:
//   - Both sides are canonicalized: accents stripped, lowercased, and every
//     non-alphanumeric rune dropped ("Organisation ID" -> "organisationid").
//   - Fields are resolved in schema order; for each field the first alias
//     present in the file wins.
//   - A column claimed by an earlier field is never reused by a later one.
//
// CUSTOMIZATION:
//   Extra aliases can be supplied through the "columns" section of
//   config.yaml. They are tried before the built-in aliases.
//
// =============================================================================

package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a canonical field name.
type Field string

// Line item fields.
const (
	FieldTransactionID         Field = "transaction_id"
	FieldValidationDate        Field = "validation_date"
	FieldOrganizationID        Field = "organization_id"
	FieldCustomerID            Field = "customer_id"
	FieldGrossAmountExclTax    Field = "gross_amount_excl_tax"
	FieldPurchasingCostExclTax Field = "purchasing_cost_excl_tax"
	FieldQuantity              Field = "quantity"
	FieldTotalAmountInclTax    Field = "total_amount_incl_tax"
	FieldLineType              Field = "line_type"
	FieldTenderLabel           Field = "tender_label"
	FieldTenderAmount          Field = "tender_amount"
	FieldProductID             Field = "product_id"
	FieldLabel                 Field = "label"
)

// Coupon fields. Coupons also use FieldOrganizationID.
const (
	FieldCouponID        Field = "coupon_id"
	FieldEmissionDate    Field = "emission_date"
	FieldUseDate         Field = "use_date"
	FieldAmountInitial   Field = "amount_initial"
	FieldAmountRemaining Field = "amount_remaining"
)

// Stock fields. Stock lines also use FieldOrganizationID and FieldQuantity.
const (
	FieldSKU Field = "sku"
)

// fieldSpec is one entry of a schema.
type fieldSpec struct {
	field    Field
	required bool
	aliases  []string
}

// lineItemSchema lists the line item fields in resolution order.
var lineItemSchema = []fieldSpec{
	{FieldTransactionID, true, []string{"operationid", "ticketnumber", "transactionid"}},
	{FieldValidationDate, true, []string{"validationdate", "operationdate", "date"}},
	{FieldOrganizationID, true, []string{"organisationid", "organizationid"}},
	{FieldCustomerID, false, []string{"customerid", "clientid"}},
	{FieldGrossAmountExclTax, true, []string{"linegrossamount", "montanthtligne", "cahtligne"}},
	{FieldPurchasingCostExclTax, true, []string{"linetotalpurchasingamount", "purchasingamount", "costprice"}},
	{FieldQuantity, false, []string{"quantity", "qty", "linequantity"}},
	{FieldTotalAmountInclTax, true, []string{"totalamountttc", "totalamount", "totaltcc", "totalttc"}},
	{FieldLineType, false, []string{"linetype", "operationlinetype", "type"}},
	{FieldTenderLabel, false, []string{"tenderlabel", "paymentmethod", "paymentmode", "tendertype", "modepaiement"}},
	{FieldTenderAmount, false, []string{"tenderamount", "paymentamount", "amountpaid"}},
	{FieldProductID, false, []string{"productid", "sku", "ean"}},
	{FieldLabel, false, []string{"label", "designation"}},
}

// couponSchema lists the coupon fields in resolution order.
var couponSchema = []fieldSpec{
	{FieldCouponID, true, []string{"couponid", "id"}},
	{FieldOrganizationID, true, []string{"organisationid", "organizationid"}},
	{FieldEmissionDate, false, []string{"creationdate", "emissiondate", "createdate"}},
	{FieldUseDate, false, []string{"usedate", "validationdate"}},
	{FieldAmountInitial, false, []string{"initialvalue", "amountinitial", "initialamount"}},
	// A bare "Amount" column is the remaining balance in coupon exports.
	{FieldAmountRemaining, false, []string{"amountremaining", "remainingamount", "amount"}},
}

// stockSchema lists the stock file fields in resolution order.
var stockSchema = []fieldSpec{
	{FieldSKU, true, []string{"sku", "productid", "ean", "reference"}},
	{FieldOrganizationID, true, []string{"organisationid", "organizationid", "storeid", "magasin"}},
	{FieldQuantity, true, []string{"quantity", "qty", "stock", "quantite"}},
}

// accentStripper decomposes runes and drops combining marks.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Canonicalize reduces a column name (or a coded value) to its matching form.
func Canonicalize(name string) string {
	stripped, _, err := transform.String(accentStripper, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// columnMap is the result of resolving a schema against a header row.
type columnMap map[Field]string

// has reports whether field was matched to a source column.
func (m columnMap) has(field Field) bool {
	_, ok := m[field]
	return ok
}

// resolveColumns matches schema fields to headers. overrides are extra
// aliases per field name, tried first. The returned slice lists required
// fields that stayed unmatched.
func resolveColumns(schema []fieldSpec, headers []string, overrides map[string][]string) (columnMap, []Field) {
	byCanonical := make(map[string]string, len(headers))
	for _, header := range headers {
		key := Canonicalize(header)
		if _, exists := byCanonical[key]; !exists && key != "" {
			byCanonical[key] = header
		}
	}

	claimed := make(map[string]bool, len(headers))
	columns := make(columnMap, len(schema))
	var missing []Field

	for _, entry := range schema {
		aliases := append(append([]string{}, overrides[string(entry.field)]...), entry.aliases...)
		for _, alias := range aliases {
			header, ok := byCanonical[Canonicalize(alias)]
			if !ok || claimed[header] {
				continue
			}
			columns[entry.field] = header
			claimed[header] = true
			break
		}
		if entry.required && !columns.has(entry.field) {
			missing = append(missing, entry.field)
		}
	}

	return columns, missing
}
