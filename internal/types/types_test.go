package types

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMonth_AcceptsNonPaddedMonth(t *testing.T) {
	key, err := ParseMonth("2024-9")
	require.NoError(t, err)
	assert.Equal(t, MonthKey{Year: 2024, Month: time.September}, key)
	assert.Equal(t, "2024-09", key.String())
}

func TestParseMonth_Rejects(t *testing.T) {
	for _, in := range []string{"", "2024", "2024-13", "abcd-01", "2024-xx"} {
		_, err := ParseMonth(in)
		assert.Error(t, err, in)
	}
}

func TestMonthKey_ChronologicalOrder(t *testing.T) {
	labels := []string{"2024-10", "2024-9", "2023-12", "2024-1"}
	keys := make([]MonthKey, 0, len(labels))
	for _, l := range labels {
		k, err := ParseMonth(l)
		require.NoError(t, err)
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = k.String()
	}
	assert.Equal(t, []string{"2023-12", "2024-01", "2024-09", "2024-10"}, got)
}

func TestKeyOf_BucketsInUTC(t *testing.T) {
	plusTwo := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2024, 2, 1, 0, 30, 0, 0, plusTwo)

	assert.Equal(t, MonthKey{Year: 2024, Month: time.January}, KeyOf(local))
	assert.Equal(t, KeyOf(local.UTC()), KeyOf(local))
	assert.Equal(t, "2024-01", MonthOf(local))
}

func TestMonthKey_PrevCrossesYear(t *testing.T) {
	assert.Equal(t, MonthKey{Year: 2023, Month: time.December}, MonthKey{Year: 2024, Month: time.January}.Prev())
	assert.Equal(t, MonthKey{Year: 2025, Month: time.January}, MonthKey{Year: 2024, Month: time.December}.Next())
	assert.Equal(t, "2024-02", MonthOf(time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)))
}

func TestNewCoupon_DerivesUsage(t *testing.T) {
	c := NewCoupon("C1", "S1", nil, nil, decimal.NewFromInt(10), decimal.NewFromInt(4))
	assert.True(t, c.ValueUsed.Equal(decimal.NewFromInt(6)))
	assert.True(t, c.IsUsed)

	overdrawn := NewCoupon("C2", "S1", nil, nil, decimal.NewFromInt(5), decimal.NewFromInt(8))
	assert.True(t, overdrawn.ValueUsed.IsZero())
	assert.False(t, overdrawn.IsUsed)
}
