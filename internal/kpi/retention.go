package kpi

import (
	"slices"

	"github.com/ginjaninja78/loyalty-kpi/internal/types"
)

// CustomerSet is a set of customer ids.
type CustomerSet map[string]struct{}

// MonthSet is the set of customers an organization saw in one month.
type MonthSet struct {
	Month     types.MonthKey
	Customers CustomerSet
}

// CustomerSets maps organization -> month -> customers seen.
type CustomerSets map[string]map[types.MonthKey]CustomerSet

// Add records that customer bought from org during month.
func (s CustomerSets) Add(org string, month types.MonthKey, customer string) {
	months, ok := s[org]
	if !ok {
		months = map[types.MonthKey]CustomerSet{}
		s[org] = months
	}
	set, ok := months[month]
	if !ok {
		set = CustomerSet{}
		months[month] = set
	}
	set[customer] = struct{}{}
}

// Series returns the months of org in chronological order.
func (s CustomerSets) Series(org string) []MonthSet {
	out := make([]MonthSet, 0, len(s[org]))
	for month, set := range s[org] {
		out = append(out, MonthSet{Month: month, Customers: set})
	}
	slices.SortFunc(out, func(a, b MonthSet) int {
		switch {
		case a.Month.Before(b.Month):
			return -1
		case b.Month.Before(a.Month):
			return 1
		}
		return 0
	})
	return out
}

// RetentionSeries walks the months of org in chronological order and returns
// the retention of each month against the calendar month before it. The
// month right after an active month is included even when it has no
// customers, since it then retained none. Months missing from the result
// have no active previous month and are undefined.
func (s CustomerSets) RetentionSeries(org string) map[types.MonthKey]Ratio {
	series := s.Series(org)
	out := make(map[types.MonthKey]Ratio, 2*len(series))
	for i, cur := range series {
		var prev CustomerSet
		if i > 0 && series[i-1].Month == cur.Month.Prev() {
			prev = series[i-1].Customers
		}
		out[cur.Month] = Retention(prev, cur.Customers)

		next := cur.Month.Next()
		if i+1 == len(series) || series[i+1].Month != next {
			out[next] = Retention(cur.Customers, nil)
		}
	}
	return out
}

// Retention is the share of prev's customers found again in cur. It is
// undefined when prev is empty and always lies in [0, 1] otherwise.
func Retention(prev, cur CustomerSet) Ratio {
	if len(prev) == 0 {
		return undefined
	}
	kept := 0
	for id := range prev {
		if _, ok := cur[id]; ok {
			kept++
		}
	}
	return countRatio(kept, len(prev))
}
