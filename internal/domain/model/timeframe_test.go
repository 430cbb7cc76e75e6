package model

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestGenerateDateRange(t *testing.T) {
	dates := GenerateDateRange(NewTimeframe(day("2024-02-27"), day("2024-03-01")))

	require.Len(t, dates, 4)
	assert.Equal(t, day("2024-02-27"), dates[0])
	assert.Equal(t, day("2024-02-29"), dates[2])
	assert.Equal(t, day("2024-03-01"), dates[3])

	assert.Len(t, GenerateDateRange(NewTimeframe(day("2024-01-01"), day("2024-01-01"))), 1)
	assert.Empty(t, GenerateDateRange(NewTimeframe(day("2024-01-02"), day("2024-01-01"))))
}

func TestConsecutiveDateGroups(t *testing.T) {
	testCases := []struct {
		name     string
		dates    []time.Time
		expected [][]time.Time
	}{
		{
			name:     "Empty",
			dates:    nil,
			expected: nil,
		},
		{
			name:  "Unsorted with gap",
			dates: []time.Time{day("2024-01-05"), day("2024-01-01"), day("2024-01-02"), day("2024-01-06")},
			expected: [][]time.Time{
				{day("2024-01-01"), day("2024-01-02")},
				{day("2024-01-05"), day("2024-01-06")},
			},
		},
		{
			name:  "Duplicates collapse",
			dates: []time.Time{day("2024-01-01"), day("2024-01-01").Add(5 * time.Hour), day("2024-01-02")},
			expected: [][]time.Time{
				{day("2024-01-01"), day("2024-01-02")},
			},
		},
		{
			name:  "Singletons",
			dates: []time.Time{day("2024-01-01"), day("2024-01-03")},
			expected: [][]time.Time{
				{day("2024-01-01")},
				{day("2024-01-03")},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ConsecutiveDateGroups(tc.dates))
		})
	}
}

func TestConsecutiveTimeframes(t *testing.T) {
	tfs := ConsecutiveTimeframes([]time.Time{day("2024-01-03"), day("2024-01-01"), day("2024-01-02"), day("2024-01-09")})

	assert.Equal(t, []Timeframe{
		{Start: day("2024-01-01"), End: day("2024-01-03")},
		{Start: day("2024-01-09"), End: day("2024-01-09")},
	}, tfs)
}

func TestConsecutiveTimeframes_CoverInputExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	origin := day("2023-12-20")

	for i := 0; i < 200; i++ {
		var dates []time.Time
		want := make(map[time.Time]bool)
		for n := rng.Intn(30); n > 0; n-- {
			d := origin.AddDate(0, 0, rng.Intn(60))
			want[d] = true
			// Same day at a different hour must collapse into one entry.
			dates = append(dates, d.Add(time.Duration(rng.Intn(24))*time.Hour))
		}

		tfs := ConsecutiveTimeframes(dates)

		got := make(map[time.Time]bool)
		for j, tf := range tfs {
			require.False(t, tf.End.Before(tf.Start), "case %d: inverted range %v", i, tf)
			for _, d := range GenerateDateRange(tf) {
				require.False(t, got[d], "case %d: %s covered twice", i, d.Format("2006-01-02"))
				got[d] = true
			}
			if j > 0 {
				gap := tf.Start.Sub(tfs[j-1].End)
				require.Greater(t, gap, 24*time.Hour, "case %d: ranges %v and %v touch", i, tfs[j-1], tf)
			}
		}
		require.Equal(t, want, got, "case %d", i)
	}
}

func TestChunkDateRange(t *testing.T) {
	chunks := ChunkDateRange(NewTimeframe(day("2024-01-01"), day("2024-01-10")), 4)

	assert.Equal(t, []Timeframe{
		{Start: day("2024-01-01"), End: day("2024-01-04")},
		{Start: day("2024-01-05"), End: day("2024-01-08")},
		{Start: day("2024-01-09"), End: day("2024-01-10")},
	}, chunks)

	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, c.Days(), 4)
		total += c.Days()
	}
	assert.Equal(t, 10, total)

	assert.Len(t, ChunkDateRange(NewTimeframe(day("2024-01-01"), day("2024-01-03")), 365), 1)
}
