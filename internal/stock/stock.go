// Package stock values store inventories at purchasing price and keeps a
// dated history of the valuations per organization and brand.
package stock

import (
	"cmp"
	"slices"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/shopspring/decimal"
)

// DateLayout is the day format of history rows.
const DateLayout = "2006-01-02"

// Valuation is the stock value of one brand in one organization on one day.
type Valuation struct {
	Date           time.Time
	OrganizationID string
	Brand          string
	Value          decimal.Decimal

	// IsLatestDate marks rows dated on the newest day of the history.
	IsLatestDate bool
}

// Key identifies a history row: date|organization|brand.
func (v Valuation) Key() string {
	return v.Date.Format(DateLayout) + "|" + v.OrganizationID + "|" + v.Brand
}

// Stats counts the stock lines valuation dropped.
type Stats struct {
	Lines           int
	Valued          int
	UnknownSKU      int
	MissingPrice    int
	InvalidQuantity int
	NonPositive     int
}

// Value joins stock lines to the product base on SKU and sums quantity times
// purchasing price per (organization, brand). Lines without a quantity or a
// price are dropped, as are groups whose total is not positive. Values are
// rounded to cents and stamped with the day of date.
func Value(lines []types.StockLine, products []types.Product, date time.Time) ([]Valuation, Stats) {
	bySKU := make(map[string]types.Product, len(products))
	for _, p := range products {
		if _, exists := bySKU[p.SKU]; !exists {
			bySKU[p.SKU] = p
		}
	}

	type group struct{ org, brand string }
	totals := map[group]decimal.Decimal{}
	var order []group

	stats := Stats{Lines: len(lines)}
	for _, line := range lines {
		product, ok := bySKU[line.SKU]
		switch {
		case !ok:
			stats.UnknownSKU++
			continue
		case product.PriceMissing:
			stats.MissingPrice++
			continue
		case !line.Quantity.Valid:
			stats.InvalidQuantity++
			continue
		}

		g := group{org: line.OrganizationID, brand: product.Brand}
		if _, seen := totals[g]; !seen {
			order = append(order, g)
		}
		totals[g] = totals[g].Add(line.Quantity.Decimal.Mul(product.PurchasingPrice))
		stats.Valued++
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]Valuation, 0, len(order))
	for _, g := range order {
		total := totals[g]
		if !total.IsPositive() {
			stats.NonPositive++
			continue
		}
		out = append(out, Valuation{
			Date:           day,
			OrganizationID: g.org,
			Brand:          g.brand,
			Value:          total.Round(2),
		})
	}
	return out, stats
}

// Merge adds fresh rows to history. A fresh row replaces the history row with
// the same key. The result is sorted by date, organization and brand, and the
// rows of the newest date are flagged IsLatestDate.
func Merge(history, fresh []Valuation) []Valuation {
	replaced := make(map[string]struct{}, len(fresh))
	for _, v := range fresh {
		replaced[v.Key()] = struct{}{}
	}

	merged := make([]Valuation, 0, len(history)+len(fresh))
	for _, v := range history {
		if _, ok := replaced[v.Key()]; !ok {
			merged = append(merged, v)
		}
	}

	// Later duplicates inside fresh win.
	index := map[string]int{}
	for _, v := range fresh {
		if pos, ok := index[v.Key()]; ok {
			merged[pos] = v
			continue
		}
		index[v.Key()] = len(merged)
		merged = append(merged, v)
	}

	var latest time.Time
	for _, v := range merged {
		if v.Date.After(latest) {
			latest = v.Date
		}
	}
	for i := range merged {
		merged[i].IsLatestDate = merged[i].Date.Equal(latest)
	}

	slices.SortStableFunc(merged, func(a, b Valuation) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.OrganizationID, b.OrganizationID); c != 0 {
			return c
		}
		return cmp.Compare(a.Brand, b.Brand)
	})
	return merged
}
