package dates

import "time"

// DayLayout is the wire format for day-granular dates.
const DayLayout = "2006-01-02"

// Day truncates t to 00:00:00 UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current day in UTC.
func Today() time.Time {
	return Day(time.Now().UTC())
}

// ISOWeekday maps Go's Sunday=0 weekday to ISO 1=Monday..7=Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// DaysBetween enumerates every day from start to end inclusive, day-normalized.
// Returns nil when end precedes start.
func DaysBetween(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// FormatDay renders a day-normalized date as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
