package normalizer

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numberNoise is removed before parsing: grouping spaces (regular, NBSP,
// narrow NBSP), apostrophes and the currency sign.
var numberNoise = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "", "€", "")

// ParseNumber parses an amount or quantity written in either the French
// ("1 234,56") or the English ("1,234.56") convention. ok is false when the
// cell is empty or cannot be parsed; the value is then zero.
func ParseNumber(raw string) (decimal.Decimal, bool) {
	s := numberNoise.Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return decimal.Zero, false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The right-most separator is the decimal one.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// dateLayouts are tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006/01/02",
}

// ParseDate parses ISO-8601 timestamps and day-first dates. ok is false when
// the cell is empty or matches no layout. The result is always in UTC, so a
// cell carrying an offset lands in the same month whichever store it goes
// through.
func ParseDate(raw string) (*time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	return nil, false
}

// NormalizeSKU trims a product reference and drops the ".0" suffix numeric
// cells carry when a sheet stored references as floats.
func NormalizeSKU(value string) string {
	value = strings.TrimSpace(value)
	return strings.TrimSuffix(value, ".0")
}
