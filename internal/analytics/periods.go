package analytics

import (
	"fmt"
	"time"
)

// Named reporting periods accepted by the analytics queries.
const (
	PeriodMonth     = "month"
	PeriodLastMonth = "last_month"
	PeriodWeek      = "week"
	PeriodQuarter   = "quarter"
	PeriodYear      = "year"
	PeriodAll       = "all"
)

const dateLayout = "2006-01-02"

// PeriodRange resolves a named period to an inclusive [from, to] date pair
// relative to now. "all" starts at 1970-01-01, well before any cached
// history.
func PeriodRange(now time.Time, period string) (string, string, error) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	switch period {
	case PeriodMonth, "":
		start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		return start.Format(dateLayout), today.Format(dateLayout), nil
	case PeriodLastMonth:
		firstOfThis := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		lastMonthEnd := firstOfThis.AddDate(0, 0, -1)
		lastMonthStart := time.Date(lastMonthEnd.Year(), lastMonthEnd.Month(), 1, 0, 0, 0, 0, now.Location())
		return lastMonthStart.Format(dateLayout), lastMonthEnd.Format(dateLayout), nil
	case PeriodWeek:
		return today.AddDate(0, 0, -7).Format(dateLayout), today.Format(dateLayout), nil
	case PeriodQuarter:
		return today.AddDate(0, -3, 0).Format(dateLayout), today.Format(dateLayout), nil
	case PeriodYear:
		return today.AddDate(-1, 0, 0).Format(dateLayout), today.Format(dateLayout), nil
	case PeriodAll:
		return "1970-01-01", today.Format(dateLayout), nil
	}
	return "", "", fmt.Errorf("unknown period %q", period)
}

// MonthStart returns the first day of the month containing t, formatted
// the way budget rows are keyed.
func MonthStart(t time.Time) string {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).Format(dateLayout)
}
