package kpi

import "github.com/shopspring/decimal"

// Ratio is a derived value that may be undefined. An invalid Ratio means the
// denominator was zero or the subset it averages was empty. It is never
// reported as 0.
type Ratio = decimal.NullDecimal

// ratioPlaces is the precision ratios are rounded to.
const ratioPlaces = 6

// undefined is the invalid Ratio.
var undefined = Ratio{}

// ratio returns num/den, or an undefined Ratio when den is zero.
func ratio(num, den decimal.Decimal) Ratio {
	if den.IsZero() {
		return undefined
	}
	return decimal.NewNullDecimal(num.DivRound(den, ratioPlaces))
}

// countRatio is ratio over two counts.
func countRatio(num, den int) Ratio {
	return ratio(decimal.NewFromInt(int64(num)), decimal.NewFromInt(int64(den)))
}

// mean averages values. An empty subset has no mean.
type mean struct {
	sum decimal.Decimal
	n   int
}

func (m *mean) add(v decimal.Decimal) {
	m.sum = m.sum.Add(v)
	m.n++
}

func (m mean) value() Ratio {
	return ratio(m.sum, decimal.NewFromInt(int64(m.n)))
}
