package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12", "12", true},
		{"12,5", "12.5", true},
		{"12.5", "12.5", true},
		{"+3", "3", true},
		{"-4,20", "-4.2", true},
		{"1 234,56", "1234.56", true},
		{"1\u00a0234,56", "1234.56", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"1.234.567", "1234567", true},
		{"1'234.5", "1234.5", true},
		{"12,00 €", "12", true},
		{"", "0", false},
		{"n/a", "0", false},
	}
	for _, tc := range cases {
		got, ok := ParseNumber(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-05":                time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		"2024-03-05 14:02:03":       time.Date(2024, 3, 5, 14, 2, 3, 0, time.UTC),
		"2024-03-05T14:02:03":       time.Date(2024, 3, 5, 14, 2, 3, 0, time.UTC),
		"2024-03-05T14:02:03.120":   time.Date(2024, 3, 5, 14, 2, 3, 120000000, time.UTC),
		"05/03/2024":                time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		"05/03/2024 09:15":          time.Date(2024, 3, 5, 9, 15, 0, 0, time.UTC),
		"2024-03-05T14:02:03+01:00": time.Date(2024, 3, 5, 13, 2, 3, 0, time.UTC),
		"2024-02-01T00:30:00+02:00": time.Date(2024, 1, 31, 22, 30, 0, 0, time.UTC),
		"2024-01-31T23:30:00-05:00": time.Date(2024, 2, 1, 4, 30, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := ParseDate(in)
		if assert.True(t, ok, in) {
			assert.True(t, want.Equal(*got), "%s: got %s", in, got)
			assert.Equal(t, time.UTC, got.Location(), in)
			assert.Equal(t, want.Month(), got.Month(), in)
		}
	}

	_, ok := ParseDate("")
	assert.False(t, ok)
	_, ok = ParseDate("31/31/2024")
	assert.False(t, ok)
}
