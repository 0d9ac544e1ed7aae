package report

import (
	"github.com/ginjaninja78/loyalty-kpi/internal/kpi"
	"github.com/ginjaninja78/loyalty-kpi/internal/stock"
)

var kpiColumns = []Column{
	{Name: "month", Kind: KindString},
	{Name: "organization_id", Kind: KindString},
	{Name: "period_start", Kind: KindDate},
	{Name: "revenue_incl_tax", Kind: KindDecimal},
	{Name: "revenue_excl_tax", Kind: KindDecimal},
	{Name: "purchasing_cost", Kind: KindDecimal},
	{Name: "margin_before_coupons", Kind: KindDecimal},
	{Name: "coupon_amount_used", Kind: KindDecimal},
	{Name: "margin_after_coupons", Kind: KindDecimal},
	{Name: "margin_rate_before", Kind: KindRatio},
	{Name: "margin_rate_after", Kind: KindRatio},
	{Name: "quantity_total", Kind: KindDecimal},
	{Name: "average_item_price", Kind: KindRatio},
	{Name: "transactions", Kind: KindInteger},
	{Name: "transactions_with_customer", Kind: KindInteger},
	{Name: "customer_association_rate", Kind: KindRatio},
	{Name: "customers", Kind: KindInteger},
	{Name: "new_customers", Kind: KindInteger},
	{Name: "returning_customers", Kind: KindInteger},
	{Name: "recurrence", Kind: KindRatio},
	{Name: "retention_rate", Kind: KindRatio},
	{Name: "average_basket", Kind: KindRatio},
	{Name: "average_basket_with_coupon", Kind: KindRatio},
	{Name: "average_basket_without_coupon", Kind: KindRatio},
	{Name: "average_basket_with_customer", Kind: KindRatio},
	{Name: "average_basket_without_customer", Kind: KindRatio},
	{Name: "coupon_amount_emitted", Kind: KindDecimal},
	{Name: "coupons_used", Kind: KindInteger},
	{Name: "coupons_emitted", Kind: KindInteger},
	{Name: "coupon_redemption_rate_amount", Kind: KindRatio},
	{Name: "coupon_redemption_rate_count", Kind: KindRatio},
	{Name: "amount_paid_by_coupon", Kind: KindDecimal},
	{Name: "voucher_share", Kind: KindRatio},
	{Name: "coupon_revenue_share", Kind: KindRatio},
}

// KpiTable builds the monthly KPI table, keyed by (month, organization_id).
func KpiTable(name string, rows []kpi.MonthlyKpi) *Table {
	t := &Table{Name: name, Columns: kpiColumns, Keys: 2, Rows: make([][]any, 0, len(rows))}
	for _, k := range rows {
		t.Rows = append(t.Rows, []any{
			k.Month.String(),
			k.OrganizationID,
			k.PeriodStart,
			k.RevenueInclTax,
			k.RevenueExclTax,
			k.PurchasingCost,
			k.MarginBeforeCoupons,
			k.CouponAmountUsed,
			k.MarginAfterCoupons,
			k.MarginRateBefore,
			k.MarginRateAfter,
			k.QuantityTotal,
			k.AverageItemPrice,
			k.Transactions,
			k.TransactionsWithCustomer,
			k.CustomerAssociationRate,
			k.Customers,
			k.NewCustomers,
			k.ReturningCustomers,
			k.Recurrence,
			k.RetentionRate,
			k.AverageBasket,
			k.AverageBasketWithCoupon,
			k.AverageBasketWithoutCoupon,
			k.AverageBasketWithCustomer,
			k.AverageBasketWithoutCustomer,
			k.CouponAmountEmitted,
			k.CouponsUsed,
			k.CouponsEmitted,
			k.CouponRedemptionRateAmount,
			k.CouponRedemptionRateCount,
			k.AmountPaidByCoupon,
			k.VoucherShare,
			k.CouponRevenueShare,
		})
	}
	return t
}

var stockColumns = []Column{
	{Name: "date", Kind: KindDate, Layout: stock.DateLayout},
	{Name: "organisationId", Kind: KindString},
	{Name: "brand", Kind: KindString},
	{Name: "valorisation", Kind: KindDecimal},
	{Name: "est_derniere_date", Kind: KindBool},
}

// StockTable builds the stock valuation history table, keyed by
// (date, organisationId, brand).
func StockTable(name string, rows []stock.Valuation) *Table {
	t := &Table{Name: name, Columns: stockColumns, Keys: 3, Rows: make([][]any, 0, len(rows))}
	for _, v := range rows {
		t.Rows = append(t.Rows, []any{v.Date, v.OrganizationID, v.Brand, v.Value, v.IsLatestDate})
	}
	return t
}
