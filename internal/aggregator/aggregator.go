// =============================================================================
// Loyalty KPI Engine - Ticket Aggregator
// =============================================================================
//
// This module collapses normalized line items into one ticket per
// transaction id.
//
// AGGREGATION RULES:
//   1. Lines are grouped by transaction id in order of first occurrence
//   2. The ticket total (TTC) is the largest total seen on a tender line.
//      POS exports repeat the ticket total on every line, so it is never
//      summed. A ticket without tender lines takes the largest total of any
//      line
//   3. Gross amount, purchasing cost and quantity are summed over product
//      sale lines only
//   4. A ticket has a coupon when any line carries a coupon tender label
//   5. Organization, customer and date come from the first line that has a
//      non-empty value. A later line with a different value is counted as a
//      conflict
//
// Tickets without a parseable date cannot be assigned to a month. They are
// left out and their ids returned in Result.Undated.
//
// =============================================================================

package aggregator

import (
	"strings"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/shopspring/decimal"
)

// =============================================================================
// OPTIONS AND RESULT
// =============================================================================

// Options tunes aggregation.
type Options struct {
	// CouponLabels are the tender labels marking a coupon-funded payment.
	// Compared after trimming and upper-casing. Default: ["COUPON"].
	CouponLabels []string

	// CouponShare is config.CouponShareFull (default) or
	// config.CouponShareProportional.
	CouponShare string
}

// DefaultOptions returns the default aggregation options.
func DefaultOptions() Options {
	return Options{CouponLabels: []string{"COUPON"}, CouponShare: config.CouponShareFull}
}

// OptionsFromConfig builds aggregation options from the KPI configuration.
func OptionsFromConfig(cfg config.KPIConfig) Options {
	opts := DefaultOptions()
	if len(cfg.CouponTenderLabels) > 0 {
		opts.CouponLabels = cfg.CouponTenderLabels
	}
	if cfg.CouponShare != "" {
		opts.CouponShare = cfg.CouponShare
	}
	return opts
}

// Result is the outcome of aggregating one batch of line items.
type Result struct {
	// Tickets are the aggregated tickets in order of first occurrence.
	Tickets []types.Ticket

	// Undated lists transaction ids dropped because no line had a date.
	Undated []string

	// Conflicts counts, per transaction id, context values that disagreed
	// with the value already taken from an earlier line.
	Conflicts map[string]int
}

// ConflictCount returns the number of tickets with at least one conflict.
func (r Result) ConflictCount() int {
	return len(r.Conflicts)
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Aggregate groups line items into tickets.
//
// PARAMETERS:
//   - lines: The normalized line items of one export.
//   - opts: Coupon labels and the coupon share mode.
//
// RETURNS:
//   - The tickets, the undated transaction ids and the context conflicts.
func Aggregate(lines []types.LineItem, opts Options) Result {
	if len(opts.CouponLabels) == 0 {
		opts.CouponLabels = DefaultOptions().CouponLabels
	}
	couponLabels := make(map[string]struct{}, len(opts.CouponLabels))
	for _, label := range opts.CouponLabels {
		couponLabels[normalizeLabel(label)] = struct{}{}
	}

	groups := make(map[string][]types.LineItem)
	groupOrder := []string{}

	for _, line := range lines {
		if _, exists := groups[line.TransactionID]; !exists {
			groupOrder = append(groupOrder, line.TransactionID)
		}
		groups[line.TransactionID] = append(groups[line.TransactionID], line)
	}

	result := Result{
		Tickets:   make([]types.Ticket, 0, len(groupOrder)),
		Conflicts: map[string]int{},
	}

	for _, id := range groupOrder {
		ticket, dated, conflicts := buildTicket(id, groups[id], couponLabels, opts.CouponShare)
		if conflicts > 0 {
			result.Conflicts[id] = conflicts
		}
		if !dated {
			result.Undated = append(result.Undated, id)
			continue
		}
		result.Tickets = append(result.Tickets, ticket)
	}

	return result
}

// buildTicket derives one ticket from the lines of a transaction.
func buildTicket(id string, lines []types.LineItem, couponLabels map[string]struct{}, share string) (types.Ticket, bool, int) {
	ticket := types.Ticket{TransactionID: id}

	var (
		date        *time.Time
		conflicts   int
		couponPaid  decimal.Decimal
		couponLines int
		tenders     int
		anyLineMax  decimal.Decimal
	)

	for i, line := range lines {
		if i == 0 || line.TotalAmountInclTax.GreaterThan(anyLineMax) {
			anyLineMax = line.TotalAmountInclTax
		}
		if line.LineType == types.LineTender {
			if tenders == 0 || line.TotalAmountInclTax.GreaterThan(ticket.TotalInclTax) {
				ticket.TotalInclTax = line.TotalAmountInclTax
			}
			tenders++
		}

		if line.LineType == types.LineProductSale {
			ticket.TotalExclTax = ticket.TotalExclTax.Add(line.GrossAmountExclTax)
			ticket.PurchasingCostExclTax = ticket.PurchasingCostExclTax.Add(line.PurchasingCostExclTax)
			ticket.QuantityTotal = ticket.QuantityTotal.Add(line.Quantity)
		}

		if _, ok := couponLabels[normalizeLabel(line.TenderLabel)]; ok && line.TenderLabel != "" {
			ticket.HasCoupon = true
			if line.TenderAmount.Valid {
				couponPaid = couponPaid.Add(line.TenderAmount.Decimal)
				couponLines++
			}
		}

		conflicts += firstNonEmpty(&ticket.OrganizationID, line.OrganizationID)
		conflicts += firstNonEmpty(&ticket.CustomerID, line.CustomerID)

		if line.ValidationDate != nil {
			switch {
			case date == nil:
				date = line.ValidationDate
			case !date.Equal(*line.ValidationDate):
				conflicts++
			}
		}
	}

	// Exports without tender rows only repeat the total on other lines.
	if tenders == 0 {
		ticket.TotalInclTax = anyLineMax
	}

	ticket.NetMarginExclTax = ticket.TotalExclTax.Sub(ticket.PurchasingCostExclTax)

	if ticket.HasCoupon {
		ticket.AmountPaidByCoupon = ticket.TotalInclTax
		if share == config.CouponShareProportional && couponLines > 0 {
			ticket.AmountPaidByCoupon = decimal.Min(ticket.TotalInclTax, couponPaid)
		}
	}

	if date == nil {
		return ticket, false, conflicts
	}
	ticket.ValidationDate = *date
	ticket.Month = types.MonthOf(*date)

	return ticket, true, conflicts
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// firstNonEmpty stores value in *dst if *dst is empty. It returns 1 when
// both are set and differ.
func firstNonEmpty(dst *string, value string) int {
	switch {
	case value == "":
		return 0
	case *dst == "":
		*dst = value
		return 0
	case *dst != value:
		return 1
	default:
		return 0
	}
}

// normalizeLabel trims and upper-cases a tender label.
func normalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
