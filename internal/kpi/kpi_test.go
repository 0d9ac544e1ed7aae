package kpi

import (
	"testing"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func tk(id, org, customer string, date time.Time, exclTax string, coupon bool) types.Ticket {
	excl := dec(exclTax)
	cost := excl.Div(dec("2"))
	t := types.Ticket{
		TransactionID:         id,
		OrganizationID:        org,
		CustomerID:            customer,
		ValidationDate:        date,
		Month:                 types.MonthOf(date),
		TotalInclTax:          excl.Mul(dec("1.2")),
		TotalExclTax:          excl,
		PurchasingCostExclTax: cost,
		QuantityTotal:         dec("1"),
		HasCoupon:             coupon,
		NetMarginExclTax:      excl.Sub(cost),
	}
	if coupon {
		t.AmountPaidByCoupon = t.TotalInclTax
	}
	return t
}

func find(t *testing.T, rows []MonthlyKpi, org, month string) MonthlyKpi {
	t.Helper()
	key, err := types.ParseMonth(month)
	require.NoError(t, err)
	for _, r := range rows {
		if r.OrganizationID == org && r.Month == key {
			return r
		}
	}
	require.Failf(t, "missing row", "%s %s", org, month)
	return MonthlyKpi{}
}

func assertRatio(t *testing.T, want string, got Ratio) {
	t.Helper()
	require.True(t, got.Valid, "expected %s, got undefined", want)
	assert.True(t, got.Decimal.Equal(dec(want)), "expected %s, got %s", want, got.Decimal)
}

func TestCompute_RetentionExample(t *testing.T) {
	rows := Compute([]types.Ticket{
		tk("1", "S1", "A", day(2024, 1, 3), "10", false),
		tk("2", "S1", "B", day(2024, 1, 4), "10", false),
		tk("3", "S1", "A", day(2024, 2, 3), "10", false),
		tk("4", "S1", "C", day(2024, 2, 9), "10", false),
	}, nil)

	jan := find(t, rows, "S1", "2024-01")
	assert.False(t, jan.RetentionRate.Valid, "no previous month")

	feb := find(t, rows, "S1", "2024-02")
	assertRatio(t, "0.5", feb.RetentionRate)
	assert.Equal(t, 2, feb.Customers)
	assert.Equal(t, 1, feb.NewCustomers)
	assert.Equal(t, 1, feb.ReturningCustomers)
}

func TestCompute_RetentionIsPerOrganization(t *testing.T) {
	rows := Compute([]types.Ticket{
		tk("1", "A", "X", day(2024, 1, 3), "10", false),
		tk("2", "B", "X", day(2024, 2, 3), "10", false),
	}, nil)

	b := find(t, rows, "B", "2024-02")
	assert.False(t, b.RetentionRate.Valid, "org B had no customers in January")
	assert.Equal(t, 0, b.NewCustomers, "first seen globally in January")
	assert.Equal(t, 1, b.ReturningCustomers)
}

func TestCompute_RetentionUsesCalendarPreviousMonth(t *testing.T) {
	rows := Compute([]types.Ticket{
		tk("1", "S1", "A", day(2024, 9, 3), "10", false),
		tk("2", "S1", "A", day(2024, 10, 3), "10", false),
		tk("3", "S1", "A", day(2024, 12, 3), "10", false),
	}, nil)

	assertRatio(t, "1", find(t, rows, "S1", "2024-10").RetentionRate)
	assert.False(t, find(t, rows, "S1", "2024-12").RetentionRate.Valid, "November is empty")
}

func TestCompute_SortedChronologically(t *testing.T) {
	rows := Compute([]types.Ticket{
		tk("1", "S2", "", day(2024, 10, 1), "10", false),
		tk("2", "S1", "", day(2024, 10, 1), "10", false),
		tk("3", "S1", "", day(2024, 9, 1), "10", false),
		tk("4", "S1", "", day(2023, 12, 1), "10", false),
	}, nil)

	require.Len(t, rows, 4)
	got := []string{}
	for _, r := range rows {
		got = append(got, r.OrganizationID+" "+r.Month.String())
	}
	assert.Equal(t, []string{"S1 2023-12", "S1 2024-09", "S1 2024-10", "S2 2024-10"}, got)
}

func TestCompute_RevenueMarginAndCoupons(t *testing.T) {
	used := day(2024, 1, 20)
	emitted := day(2024, 1, 2)
	old := day(2023, 12, 2)

	rows := Compute(
		[]types.Ticket{
			tk("1", "S1", "A", day(2024, 1, 3), "100", true),
			tk("2", "S1", "", day(2024, 1, 4), "50", false),
		},
		[]types.Coupon{
			types.NewCoupon("C1", "S1", &emitted, &used, dec("10"), dec("0")),
			types.NewCoupon("C2", "S1", &emitted, nil, dec("10"), dec("10")),
			types.NewCoupon("C3", "S1", &old, &used, dec("20"), dec("5")),
		},
	)

	jan := find(t, rows, "S1", "2024-01")
	assert.True(t, jan.RevenueExclTax.Equal(dec("150")))
	assert.True(t, jan.RevenueInclTax.Equal(dec("180")))
	assert.True(t, jan.MarginBeforeCoupons.Equal(dec("75")))
	assert.True(t, jan.CouponAmountUsed.Equal(dec("25")))
	assert.True(t, jan.MarginAfterCoupons.Equal(dec("50")))
	assertRatio(t, "0.5", jan.MarginRateBefore)
	assertRatio(t, "0.333333", jan.MarginRateAfter)

	assert.Equal(t, 2, jan.Transactions)
	assert.Equal(t, 1, jan.TransactionsWithCustomer)
	assertRatio(t, "0.5", jan.CustomerAssociationRate)
	assertRatio(t, "1", jan.Recurrence)

	assertRatio(t, "75", jan.AverageBasket)
	assertRatio(t, "100", jan.AverageBasketWithCoupon)
	assertRatio(t, "50", jan.AverageBasketWithoutCoupon)
	assertRatio(t, "100", jan.AverageBasketWithCustomer)
	assertRatio(t, "50", jan.AverageBasketWithoutCustomer)

	assert.Equal(t, 2, jan.CouponsUsed)
	assert.Equal(t, 2, jan.CouponsEmitted)
	assert.True(t, jan.CouponAmountEmitted.Equal(dec("20")))
	assertRatio(t, "1.25", jan.CouponRedemptionRateAmount)
	assertRatio(t, "1", jan.CouponRedemptionRateCount)
	assertRatio(t, "0.8", jan.VoucherShare)
	assertRatio(t, "0.166667", jan.CouponRevenueShare)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), jan.PeriodStart)
}

func TestCompute_CouponOnlyMonthHasUndefinedRatios(t *testing.T) {
	emitted := day(2024, 5, 2)
	rows := Compute(nil, []types.Coupon{types.NewCoupon("C1", "S1", &emitted, nil, dec("10"), dec("10"))})

	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 0, row.Transactions)
	assert.True(t, row.RevenueExclTax.IsZero())
	assert.Equal(t, 1, row.CouponsEmitted)
	assertRatio(t, "0", row.CouponRedemptionRateAmount)

	for name, r := range map[string]Ratio{
		"margin rate":   row.MarginRateBefore,
		"association":   row.CustomerAssociationRate,
		"recurrence":    row.Recurrence,
		"basket":        row.AverageBasket,
		"voucher share": row.VoucherShare,
		"retention":     row.RetentionRate,
		"item price":    row.AverageItemPrice,
	} {
		assert.False(t, r.Valid, name)
	}
}

func TestCompute_EmptySubsetsAreUndefined(t *testing.T) {
	rows := Compute([]types.Ticket{tk("1", "S1", "A", day(2024, 1, 3), "10", false)}, nil)
	row := rows[0]
	assert.False(t, row.AverageBasketWithCoupon.Valid)
	assert.False(t, row.AverageBasketWithoutCustomer.Valid)
	assert.False(t, row.CouponRedemptionRateCount.Valid)
}

func TestCompute_Idempotent(t *testing.T) {
	tickets := []types.Ticket{
		tk("1", "S1", "A", day(2024, 1, 3), "10", true),
		tk("2", "S1", "B", day(2024, 2, 3), "20", false),
	}
	assert.Equal(t, Compute(tickets, nil), Compute(tickets, nil))
}

func TestRetention(t *testing.T) {
	set := func(ids ...string) CustomerSet {
		s := CustomerSet{}
		for _, id := range ids {
			s[id] = struct{}{}
		}
		return s
	}

	assert.False(t, Retention(nil, set("A")).Valid)
	assertRatio(t, "1", Retention(set("A", "B"), set("B", "A")))
	assertRatio(t, "0", Retention(set("A"), set("B")))
	assertRatio(t, "0.5", Retention(set("A", "B"), set("A", "C")))
}

func TestCustomerSets_Series(t *testing.T) {
	sets := CustomerSets{}
	oct, _ := types.ParseMonth("2024-10")
	sep, _ := types.ParseMonth("2024-9")
	sets.Add("S1", oct, "A")
	sets.Add("S1", sep, "A")
	sets.Add("S1", sep, "B")

	series := sets.Series("S1")
	require.Len(t, series, 2)
	assert.Equal(t, sep, series[0].Month)
	assert.Len(t, series[0].Customers, 2)
	assert.Empty(t, sets.Series("unknown"))
}

func TestCustomerSets_RetentionSeries(t *testing.T) {
	month := func(s string) types.MonthKey {
		m, err := types.ParseMonth(s)
		require.NoError(t, err)
		return m
	}

	sets := CustomerSets{}
	sets.Add("S1", month("2024-09"), "A")
	sets.Add("S1", month("2024-09"), "B")
	sets.Add("S1", month("2024-10"), "A")
	sets.Add("S1", month("2024-12"), "A")
	sets.Add("S2", month("2024-10"), "B")

	got := sets.RetentionSeries("S1")
	assert.False(t, got[month("2024-09")].Valid, "first month has no previous month")
	assertRatio(t, "0.5", got[month("2024-10")])
	assertRatio(t, "0", got[month("2024-11")])
	assert.False(t, got[month("2024-12")].Valid, "previous calendar month had no customers")
	assertRatio(t, "0", got[month("2025-01")])
	_, ok := got[month("2024-08")]
	assert.False(t, ok)

	assert.False(t, sets.RetentionSeries("S2")[month("2024-10")].Valid, "organizations are independent")
}

func TestRatio(t *testing.T) {
	assert.False(t, ratio(dec("1"), decimal.Zero).Valid)
	assertRatio(t, "0.333333", ratio(dec("1"), dec("3")))
	assert.False(t, mean{}.value().Valid)
}
