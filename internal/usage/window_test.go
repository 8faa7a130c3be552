package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_FirstRequestOfDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	history, totals := Record(nil, now)

	require.NotNil(t, history)
	assert.Equal(t, map[string]int{"2025-03-10": 1}, history)
	assert.Equal(t, Totals{Daily: 1, Monthly: 1}, totals)
}

func TestRecord_IncrementsExistingDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	history := map[string]int{"2025-03-10": 4, "2025-03-09": 2}

	history, totals := Record(history, now)

	assert.Equal(t, 5, history["2025-03-10"])
	assert.Equal(t, 5, totals.Daily)
	assert.Equal(t, 7, totals.Monthly)
}

func TestRecord_MonthlyIsRecomputed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := map[string]int{
		"2025-05-03": 3, // starts after now-30d: counted
		"2025-05-02": 5, // starts before now-30d: not counted
		"2025-04-01": 7,
	}

	_, totals := Record(history, now)
	assert.Equal(t, 4, totals.Monthly)

	// advancing the clock drops days out of the window without any decrement
	later := now.AddDate(0, 0, 1)
	_, totals = Record(history, later)
	assert.Equal(t, 2, totals.Monthly)
	assert.Equal(t, 1, totals.Daily)
}

func TestRecord_BoundaryDaysAfterMidnight(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := map[string]int{"2025-05-02": 5, "2025-03-03": 1}

	history, totals := Record(history, now)

	assert.Equal(t, 1, totals.Monthly)
	assert.NotContains(t, history, "2025-03-03")
	assert.Contains(t, history, "2025-05-02")
}

func TestRecord_PrunesOlderThanRetention(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	history := map[string]int{
		"2025-03-03": 1, // starts exactly 90 days back: kept
		"2025-03-02": 1, // pruned
		"2024-12-31": 9,
		"garbage":    4,
	}

	history, _ = Record(history, now)

	assert.Contains(t, history, "2025-03-03")
	assert.NotContains(t, history, "2025-03-02")
	assert.NotContains(t, history, "2024-12-31")
	assert.NotContains(t, history, "garbage")
}

func TestRecord_FortyRequestsOverThreeDays(t *testing.T) {
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	perDay := []int{15, 13, 12}

	var (
		history map[string]int
		totals  Totals
	)
	for d, n := range perDay {
		for i := 0; i < n; i++ {
			history, totals = Record(history, start.AddDate(0, 0, d).Add(time.Duration(i)*time.Minute))
		}
	}

	assert.Equal(t, 12, totals.Daily)
	assert.Equal(t, 40, totals.Monthly)
	assert.Len(t, history, 3)
}

func TestRecord_UsesUTCDays(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 01:00 local on the 2nd is still the 1st in UTC
	now := time.Date(2025, 1, 2, 1, 0, 0, 0, loc)

	history, _ := Record(nil, now)
	assert.Contains(t, history, "2025-01-01")
}

func TestMonthly_IgnoresFutureDays(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	history := map[string]int{"2025-01-10": 2, "2025-01-11": 5}

	assert.Equal(t, 2, Monthly(history, now))
}
