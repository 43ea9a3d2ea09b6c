/*
period.go - Calendar-month periods, UTC only

Every period boundary in the engine comes from MonthPeriod, so "end of
month" means one thing everywhere: the last nanosecond of the month in UTC.
Balance and report filters treat the end instant inclusively.
*/
package report

import "time"

// Period is one calendar month with resolved UTC boundaries.
type Period struct {
	Month int // 1-12 after normalization
	Year  int
	Start time.Time // first nanosecond of the month
	End   time.Time // last nanosecond of the month
}

// MonthPeriod resolves a (month, year) pair to its UTC boundaries.
// Out-of-range months wrap across year boundaries the way time.Date
// normalizes them: month 0 is December of the previous year, month 13 is
// January of the next.
func MonthPeriod(month, year int) Period {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return Period{
		Month: int(start.Month()),
		Year:  start.Year(),
		Start: start,
		End:   end,
	}
}

// Prev returns the preceding calendar month.
func (p Period) Prev() Period { return MonthPeriod(p.Month-1, p.Year) }

// Next returns the following calendar month.
func (p Period) Next() Period { return MonthPeriod(p.Month+1, p.Year) }

// Window returns the trailing n month-end boundaries ending at p,
// chronologically ascending. Used for the balance-evolution report.
func (p Period) Window(n int) []time.Time {
	boundaries := make([]time.Time, 0, n)
	cur := p
	for i := 0; i < n; i++ {
		boundaries = append(boundaries, cur.End)
		cur = cur.Prev()
	}
	// Reverse into chronological order.
	for i, j := 0, len(boundaries)-1; i < j; i, j = i+1, j-1 {
		boundaries[i], boundaries[j] = boundaries[j], boundaries[i]
	}
	return boundaries
}
