package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcal/internal/model"
)

func TestBucketAlwaysSevenDays(t *testing.T) {
	loc := berlin(t)
	today := time.Date(2026, 10, 22, 18, 45, 0, 0, loc)

	days := EmptyWeek(today)
	require.Len(t, days, DaysInSchedule)

	want := []string{"2026-10-22", "2026-10-23", "2026-10-24", "2026-10-25", "2026-10-26", "2026-10-27", "2026-10-28"}
	for i, d := range days {
		assert.Equal(t, want[i], d.DateStr)
		assert.Equal(t, 0, d.Date.Hour(), "midnight across the DST change")
		assert.NotNil(t, d.Events)
		assert.Empty(t, d.Events)
	}
}

func TestBucketPlacesTimedEventsByHomeDate(t *testing.T) {
	loc := berlin(t)
	today := time.Date(2026, 10, 16, 8, 0, 0, 0, loc)

	events := []model.Event{
		// 23:30 Berlin on Oct 17 is 21:30 UTC.
		timed("late", "Late film", time.Date(2026, 10, 17, 23, 30, 0, 0, loc), 2*time.Hour, "mama"),
		// 00:30 Berlin on Oct 18 is still Oct 17 in UTC.
		timed("night", "Night flight", time.Date(2026, 10, 18, 0, 30, 0, 0, loc), time.Hour, "papa"),
		timed("past", "Yesterday", time.Date(2026, 10, 15, 12, 0, 0, 0, loc), time.Hour, "papa"),
		timed("beyond", "Next week", time.Date(2026, 10, 23, 12, 0, 0, 0, loc), time.Hour, "papa"),
	}
	days := Bucket(events, today)

	assert.Equal(t, []string{"late"}, ids(days[1].Events))
	assert.Equal(t, []string{"night"}, ids(days[2].Events))
	total := 0
	for _, d := range days {
		total += len(d.Events)
	}
	assert.Equal(t, 2, total)
}

func TestBucketSpreadsAllDayEvents(t *testing.T) {
	loc := berlin(t)
	today := time.Date(2026, 10, 16, 8, 0, 0, 0, loc)

	// Holiday from Oct 12 up to (not including) Oct 19.
	holiday := allDay("holiday", "Herbstferien", time.Date(2026, 10, 12, 0, 0, 0, 0, loc), 7, "family")
	days := Bucket([]model.Event{holiday}, today)

	for i, d := range days {
		if i < 3 {
			assert.Equal(t, []string{"holiday"}, ids(d.Events), d.DateStr)
		} else {
			assert.Empty(t, d.Events, d.DateStr)
		}
	}
}

func TestBucketOrdersAllDayFirstThenByStart(t *testing.T) {
	loc := berlin(t)
	today := time.Date(2026, 10, 20, 0, 0, 0, 0, loc)
	at := func(h, m int) time.Time { return time.Date(2026, 10, 20, h, m, 0, 0, loc) }

	events := []model.Event{
		timed("lunch", "Lunch", at(12, 0), time.Hour, "papa"),
		allDay("bins", "Bin day", at(0, 0), 1, "family"),
		timed("school", "School run", at(7, 45), 30*time.Minute, "mama"),
		allDay("birthday", "Oma birthday", at(0, 0), 1, "family"),
		timed("dinner", "Dinner", at(18, 30), time.Hour, "family"),
	}
	days := Bucket(events, today)

	assert.Equal(t, []string{"bins", "birthday", "school", "lunch", "dinner"}, ids(days[0].Events))
}
