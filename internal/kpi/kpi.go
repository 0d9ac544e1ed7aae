// Package kpi computes the monthly per-organization loyalty indicators from
// the ticket and coupon history.
//
// Compute is a pure function: it is rerun over the full history after every
// ingest, so results never depend on the order files arrived in.
package kpi

import (
	"cmp"
	"slices"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/shopspring/decimal"
)

// MonthlyKpi holds the indicators of one organization for one month.
type MonthlyKpi struct {
	Month          types.MonthKey
	OrganizationID string

	// PeriodStart is the first day of Month.
	PeriodStart time.Time

	// Revenue and margin.
	RevenueInclTax      decimal.Decimal
	RevenueExclTax      decimal.Decimal
	PurchasingCost      decimal.Decimal
	MarginBeforeCoupons decimal.Decimal
	CouponAmountUsed    decimal.Decimal
	MarginAfterCoupons  decimal.Decimal
	MarginRateBefore    Ratio
	MarginRateAfter     Ratio
	QuantityTotal       decimal.Decimal
	AverageItemPrice    Ratio

	// Customers.
	Transactions             int
	TransactionsWithCustomer int
	CustomerAssociationRate  Ratio
	Customers                int
	NewCustomers             int
	ReturningCustomers       int
	Recurrence               Ratio
	RetentionRate            Ratio

	// Baskets, averaged over TotalExclTax.
	AverageBasket                Ratio
	AverageBasketWithCoupon      Ratio
	AverageBasketWithoutCoupon   Ratio
	AverageBasketWithCustomer    Ratio
	AverageBasketWithoutCustomer Ratio

	// Coupons.
	CouponAmountEmitted        decimal.Decimal
	CouponsUsed                int
	CouponsEmitted             int
	CouponRedemptionRateAmount Ratio
	CouponRedemptionRateCount  Ratio
	AmountPaidByCoupon         decimal.Decimal
	VoucherShare               Ratio
	CouponRevenueShare         Ratio
}

// key identifies one output row.
type key struct {
	org   string
	month types.MonthKey
}

// bucket accumulates the raw sums of one (org, month).
type bucket struct {
	revenueInclTax     decimal.Decimal
	revenueExclTax     decimal.Decimal
	purchasingCost     decimal.Decimal
	margin             decimal.Decimal
	quantity           decimal.Decimal
	amountPaidByCoupon decimal.Decimal

	transactions     map[string]struct{}
	withCustomer     map[string]struct{}
	customers        map[string]struct{}
	newCustomers     map[string]struct{}
	basketAll        mean
	basketCoupon     mean
	basketNoCoupon   mean
	basketCustomer   mean
	basketNoCustomer mean

	couponAmountUsed    decimal.Decimal
	couponAmountEmitted decimal.Decimal
	couponsUsed         map[string]struct{}
	couponsEmitted      map[string]struct{}
}

func newBucket() *bucket {
	return &bucket{
		transactions:   map[string]struct{}{},
		withCustomer:   map[string]struct{}{},
		customers:      map[string]struct{}{},
		newCustomers:   map[string]struct{}{},
		couponsUsed:    map[string]struct{}{},
		couponsEmitted: map[string]struct{}{},
	}
}

// Compute returns one MonthlyKpi per (organization, month) found in the
// tickets, coupon use dates or coupon emission dates. Rows are sorted by
// organization, then chronologically by month.
func Compute(tickets []types.Ticket, coupons []types.Coupon) []MonthlyKpi {
	buckets := map[key]*bucket{}
	get := func(k key) *bucket {
		b, ok := buckets[k]
		if !ok {
			b = newBucket()
			buckets[k] = b
		}
		return b
	}

	firstMonth := firstMonths(tickets)
	sets := CustomerSets{}

	for _, t := range tickets {
		month := types.KeyOf(t.ValidationDate)
		b := get(key{org: t.OrganizationID, month: month})

		b.revenueInclTax = b.revenueInclTax.Add(t.TotalInclTax)
		b.revenueExclTax = b.revenueExclTax.Add(t.TotalExclTax)
		b.purchasingCost = b.purchasingCost.Add(t.PurchasingCostExclTax)
		b.margin = b.margin.Add(t.NetMarginExclTax)
		b.quantity = b.quantity.Add(t.QuantityTotal)
		b.amountPaidByCoupon = b.amountPaidByCoupon.Add(t.AmountPaidByCoupon)
		b.transactions[t.TransactionID] = struct{}{}

		b.basketAll.add(t.TotalExclTax)
		if t.HasCoupon {
			b.basketCoupon.add(t.TotalExclTax)
		} else {
			b.basketNoCoupon.add(t.TotalExclTax)
		}

		if !t.HasCustomer() {
			b.basketNoCustomer.add(t.TotalExclTax)
			continue
		}
		b.basketCustomer.add(t.TotalExclTax)
		b.withCustomer[t.TransactionID] = struct{}{}
		b.customers[t.CustomerID] = struct{}{}
		if firstMonth[t.CustomerID] == month {
			b.newCustomers[t.CustomerID] = struct{}{}
		}
		sets.Add(t.OrganizationID, month, t.CustomerID)
	}

	for _, c := range coupons {
		if c.UseDate != nil {
			b := get(key{org: c.OrganizationID, month: types.KeyOf(*c.UseDate)})
			b.couponAmountUsed = b.couponAmountUsed.Add(c.ValueUsed)
			b.couponsUsed[c.CouponID] = struct{}{}
		}
		if c.EmissionDate != nil {
			b := get(key{org: c.OrganizationID, month: types.KeyOf(*c.EmissionDate)})
			b.couponAmountEmitted = b.couponAmountEmitted.Add(c.AmountInitial)
			b.couponsEmitted[c.CouponID] = struct{}{}
		}
	}

	retention := map[string]map[types.MonthKey]Ratio{}
	rows := make([]MonthlyKpi, 0, len(buckets))
	for k, b := range buckets {
		series, ok := retention[k.org]
		if !ok {
			series = sets.RetentionSeries(k.org)
			retention[k.org] = series
		}
		row := b.kpi(k)
		row.RetentionRate = series[k.month]
		rows = append(rows, row)
	}

	slices.SortFunc(rows, func(a, b MonthlyKpi) int {
		if c := cmp.Compare(a.OrganizationID, b.OrganizationID); c != 0 {
			return c
		}
		if a.Month.Before(b.Month) {
			return -1
		}
		if b.Month.Before(a.Month) {
			return 1
		}
		return 0
	})
	return rows
}

// kpi derives the reported indicators from the sums.
func (b *bucket) kpi(k key) MonthlyKpi {
	marginAfter := b.margin.Sub(b.couponAmountUsed)
	customers := len(b.customers)
	withCustomer := len(b.withCustomer)

	return MonthlyKpi{
		Month:          k.month,
		OrganizationID: k.org,
		PeriodStart:    k.month.Start(),

		RevenueInclTax:      b.revenueInclTax,
		RevenueExclTax:      b.revenueExclTax,
		PurchasingCost:      b.purchasingCost,
		MarginBeforeCoupons: b.margin,
		CouponAmountUsed:    b.couponAmountUsed,
		MarginAfterCoupons:  marginAfter,
		MarginRateBefore:    ratio(b.margin, b.revenueExclTax),
		MarginRateAfter:     ratio(marginAfter, b.revenueExclTax),
		QuantityTotal:       b.quantity,
		AverageItemPrice:    ratio(b.revenueExclTax, b.quantity),

		Transactions:             len(b.transactions),
		TransactionsWithCustomer: withCustomer,
		CustomerAssociationRate:  countRatio(withCustomer, len(b.transactions)),
		Customers:                customers,
		NewCustomers:             len(b.newCustomers),
		ReturningCustomers:       customers - len(b.newCustomers),
		Recurrence:               countRatio(withCustomer, customers),

		AverageBasket:                b.basketAll.value(),
		AverageBasketWithCoupon:      b.basketCoupon.value(),
		AverageBasketWithoutCoupon:   b.basketNoCoupon.value(),
		AverageBasketWithCustomer:    b.basketCustomer.value(),
		AverageBasketWithoutCustomer: b.basketNoCustomer.value(),

		CouponAmountEmitted:        b.couponAmountEmitted,
		CouponsUsed:                len(b.couponsUsed),
		CouponsEmitted:             len(b.couponsEmitted),
		CouponRedemptionRateAmount: ratio(b.couponAmountUsed, b.couponAmountEmitted),
		CouponRedemptionRateCount:  countRatio(len(b.couponsUsed), len(b.couponsEmitted)),
		AmountPaidByCoupon:         b.amountPaidByCoupon,
		VoucherShare:               ratio(b.amountPaidByCoupon, b.revenueExclTax),
		CouponRevenueShare:         ratio(b.couponAmountUsed, b.revenueExclTax),
	}
}

// firstMonths returns the month of each customer's earliest ticket across
// every organization.
func firstMonths(tickets []types.Ticket) map[string]types.MonthKey {
	first := map[string]types.MonthKey{}
	for _, t := range tickets {
		if !t.HasCustomer() {
			continue
		}
		month := types.KeyOf(t.ValidationDate)
		if cur, ok := first[t.CustomerID]; !ok || month.Before(cur) {
			first[t.CustomerID] = month
		}
	}
	return first
}
