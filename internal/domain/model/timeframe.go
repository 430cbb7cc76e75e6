package model

import (
	"sort"
	"time"

	"rates-engine/pkg/utils"
)

// Timeframe is an inclusive range of UTC days.
type Timeframe struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewTimeframe(start, end time.Time) Timeframe {
	return Timeframe{Start: utils.TruncateDay(start), End: utils.TruncateDay(end)}
}

// Days returns the number of days covered, counting both ends.
func (t Timeframe) Days() int {
	if t.End.Before(t.Start) {
		return 0
	}
	return utils.DaysBetween(t.Start, t.End) + 1
}

// MarketDate identifies one historical observation.
type MarketDate struct {
	Market Market
	Date   time.Time
}

// MarketTimeframe asks for every day of a timeframe for one market.
type MarketTimeframe struct {
	Market    Market
	Timeframe Timeframe
}

// GenerateDateRange lists every day of tf in ascending order.
func GenerateDateRange(tf Timeframe) []time.Time {
	n := tf.Days()
	dates := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, tf.Start.AddDate(0, 0, i))
	}
	return dates
}

// ConsecutiveDateGroups sorts and dedupes dates by UTC day, then splits them
// wherever two neighbours are more than one day apart.
func ConsecutiveDateGroups(dates []time.Time) [][]time.Time {
	if len(dates) == 0 {
		return nil
	}

	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		days = append(days, utils.TruncateDay(d))
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var groups [][]time.Time
	current := []time.Time{days[0]}
	for _, d := range days[1:] {
		last := current[len(current)-1]
		switch utils.DaysBetween(last, d) {
		case 0:
			continue
		case 1:
			current = append(current, d)
		default:
			groups = append(groups, current)
			current = []time.Time{d}
		}
	}
	return append(groups, current)
}

// ConsecutiveTimeframes collapses each consecutive group of dates into a
// timeframe.
func ConsecutiveTimeframes(dates []time.Time) []Timeframe {
	groups := ConsecutiveDateGroups(dates)
	out := make([]Timeframe, 0, len(groups))
	for _, g := range groups {
		out = append(out, Timeframe{Start: g[0], End: g[len(g)-1]})
	}
	return out
}

// ChunkDateRange splits tf into consecutive pieces of at most maxSize days.
func ChunkDateRange(tf Timeframe, maxSize int) []Timeframe {
	if tf.Days() == 0 {
		return nil
	}
	if maxSize <= 0 {
		return []Timeframe{tf}
	}

	var chunks []Timeframe
	for start := tf.Start; !start.After(tf.End); start = start.AddDate(0, 0, maxSize) {
		end := start.AddDate(0, 0, maxSize-1)
		if end.After(tf.End) {
			end = tf.End
		}
		chunks = append(chunks, Timeframe{Start: start, End: end})
	}
	return chunks
}
