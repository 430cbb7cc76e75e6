package utils

import (
	"time"
)

// DateLayout is the wire format used for rate dates and historical cache keys.
const DateLayout = "2006-01-02"

const day = 24 * time.Hour

// TruncateDay returns the UTC midnight of the day containing t.
func TruncateDay(t time.Time) time.Time {
	return t.UTC().Truncate(day)
}

// Today returns the current UTC day.
func Today() time.Time {
	return TruncateDay(time.Now())
}

// DaysBetween returns the number of whole UTC days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)) / day)
}

// IsFuture reports whether date falls after the current UTC day.
func IsFuture(date time.Time) bool {
	return TruncateDay(date).After(Today())
}

func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func FormatDate(date time.Time) string {
	return date.UTC().Format(DateLayout)
}
