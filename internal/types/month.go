package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MonthKey identifies a calendar month. Keys compare chronologically, so
// "2024-9" sorts before "2024-10".
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthOf returns the YYYY-MM label of t.
func MonthOf(t time.Time) string {
	return KeyOf(t).String()
}

// KeyOf returns the UTC month containing t.
func KeyOf(t time.Time) MonthKey {
	t = t.UTC()
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "YYYY-MM". A non-padded month ("2024-9") is accepted.
func ParseMonth(s string) (MonthKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return MonthKey{}, fmt.Errorf("expected YYYY-MM, got %q", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid year in %q: %w", s, err)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month in %q: %w", s, err)
	}
	if month < 1 || month > 12 {
		return MonthKey{}, fmt.Errorf("month out of range in %q", s)
	}
	return MonthKey{Year: year, Month: time.Month(month)}, nil
}

// String renders the key as YYYY-MM.
func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Start returns the first instant of the month in UTC.
func (m MonthKey) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Prev returns the immediately preceding calendar month.
func (m MonthKey) Prev() MonthKey {
	return KeyOf(m.Start().AddDate(0, -1, 0))
}

// Next returns the immediately following calendar month.
func (m MonthKey) Next() MonthKey {
	return KeyOf(m.Start().AddDate(0, 1, 0))
}

// Before reports whether m is strictly earlier than o.
func (m MonthKey) Before(o MonthKey) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// IsZero reports whether the key was never set.
func (m MonthKey) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}
