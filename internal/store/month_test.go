package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ginjaninja78/loyalty-kpi/internal/aggregator"
	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/kpi"
	"github.com/ginjaninja78/loyalty-kpi/internal/normalizer"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kpiMonths returns the "org month" labels of the computed rows.
func kpiMonths(t *testing.T, ctx context.Context, h *Handle) []string {
	t.Helper()
	tickets, err := h.Tickets(ctx)
	require.NoError(t, err)
	coupons, err := h.Coupons(ctx)
	require.NoError(t, err)

	var out []string
	for _, row := range kpi.Compute(tickets, coupons) {
		out = append(out, row.OrganizationID+" "+row.Month.String())
	}
	return out
}

func TestOffsetDates_SameMonthOnEveryBackend(t *testing.T) {
	cases := []struct {
		name string
		cfg  func(dir string) config.StoreConfig
	}{
		{"sqlite", func(dir string) config.StoreConfig {
			return config.StoreConfig{Driver: DriverSQLite, Path: filepath.Join(dir, "history.db")}
		}},
		{"parquet", func(dir string) config.StoreConfig {
			return config.StoreConfig{Driver: DriverParquet, Dir: dir}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := tc.cfg(t.TempDir())

			sold, ok := normalizer.ParseDate("2024-02-01T00:30:00+02:00")
			require.True(t, ok)
			used, ok := normalizer.ParseDate("2024-03-01T00:15:00+01:00")
			require.True(t, ok)

			res := aggregator.Aggregate([]types.LineItem{{
				TransactionID:      "T1",
				OrganizationID:     "S1",
				CustomerID:         "C1",
				ValidationDate:     sold,
				LineType:           types.LineTender,
				TotalAmountInclTax: dec("20"),
			}}, aggregator.DefaultOptions())
			require.Len(t, res.Tickets, 1)
			assert.Equal(t, "2024-01", res.Tickets[0].Month)

			coupons := []types.Coupon{types.NewCoupon("K1", "S1", nil, used, dec("10"), dec("0"))}
			want := []string{"S1 2024-01", "S1 2024-02"}

			h, err := Open(ctx, cfg, nil)
			require.NoError(t, err)
			_, err = h.Commit(ctx, res.Tickets, coupons)
			require.NoError(t, err)
			assert.Equal(t, want, kpiMonths(t, ctx, h), "before reopening")
			require.NoError(t, h.Close())

			h, err = Open(ctx, cfg, nil)
			require.NoError(t, err)
			defer h.Close()

			stored, err := h.Tickets(ctx)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, res.Tickets[0].Month, stored[0].Month)
			assert.Equal(t, stored[0].Month, types.MonthOf(stored[0].ValidationDate))
			assert.Equal(t, want, kpiMonths(t, ctx, h), "after reopening")
		})
	}
}
