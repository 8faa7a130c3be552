// Package usage folds per-day request counts into rolling totals.
package usage

import "time"

const (
	DayLayout = "2006-01-02"

	MonthlyWindowDays = 30
	RetentionDays     = 90
)

// Totals is the result of folding one request into a history.
type Totals struct {
	Daily   int
	Monthly int
}

// Day returns the UTC calendar day key for t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Record counts one request for now's day into history, recomputes the daily and
// trailing 30-day totals, and drops days older than 90 days. history is mutated in
// place; a nil history is allocated.
func Record(history map[string]int, now time.Time) (map[string]int, Totals) {
	if history == nil {
		history = make(map[string]int, 1)
	}

	today := Day(now)
	history[today]++

	Prune(history, now)

	return history, Totals{
		Daily:   history[today],
		Monthly: Monthly(history, now),
	}
}

// Monthly sums the entries whose day starts no earlier than 30 days before now.
func Monthly(history map[string]int, now time.Time) int {
	from := now.AddDate(0, 0, -MonthlyWindowDays)
	today := Day(now)

	sum := 0
	for day, n := range history {
		d, err := time.Parse(DayLayout, day)
		if err != nil || day > today {
			continue
		}
		if !d.Before(from) {
			sum += n
		}
	}
	return sum
}

// Prune removes every entry whose day starts more than 90 days before now.
func Prune(history map[string]int, now time.Time) {
	cutoff := now.AddDate(0, 0, -RetentionDays)
	for day := range history {
		d, err := time.Parse(DayLayout, day)
		if err != nil || d.Before(cutoff) {
			delete(history, day)
		}
	}
}
