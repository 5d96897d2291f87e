package ics

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrimSmallFeedIsByteIdentical(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, berlin(t))
	text := calendar(
		vevent("a", "SUMMARY:Recent", "DTSTART:20261010T090000Z"),
		vevent("b", "SUMMARY:Upcoming", "DTSTART;VALUE=DATE:20261020"),
		vevent("c", "SUMMARY:Weekly", "DTSTART:20190101T090000Z", "RRULE:FREQ=WEEKLY"),
	)

	assert.Equal(t, text, Trim(text, now, TrimOptions{}))
}

func TestTrimNoEventsPassThrough(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	text := calendar()
	assert.Equal(t, text, Trim(text, now, TrimOptions{}))
}

func TestTrimDropsStaleOneOffs(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, berlin(t))
	stale := vevent("stale", "SUMMARY:Old", "DTSTART:20250101T090000Z")
	staleDate := vevent("stale-date", "SUMMARY:Old day", "DTSTART;VALUE=DATE:20250102")
	recurring := vevent("weekly", "SUMMARY:Weekly", "DTSTART:20190101T090000Z", "RRULE:FREQ=WEEKLY")
	unparseable := vevent("weird", "SUMMARY:Weird", "DTSTART:sometime")
	floating := vevent("floating", "SUMMARY:Floating", "DTSTART;TZID=Europe/Berlin:20261012T090000")
	text := calendar(stale, recurring, staleDate, unparseable, floating)

	out := Trim(text, now, TrimOptions{})

	assert.NotContains(t, out, "UID:stale\r\n")
	assert.NotContains(t, out, "UID:stale-date\r\n")
	assert.Contains(t, out, "UID:weekly\r\n")
	assert.Contains(t, out, "UID:weird\r\n")
	assert.Contains(t, out, "UID:floating\r\n")

	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//famcal//test//EN\r\n"))
	assert.True(t, strings.HasSuffix(out, "END:VCALENDAR\r\n"))
	// Original order is kept.
	assert.Less(t, strings.Index(out, "UID:weekly"), strings.Index(out, "UID:weird"))
	assert.Less(t, strings.Index(out, "UID:weird"), strings.Index(out, "UID:floating"))
}

func TestTrimLookbackBoundary(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	// Cutoff is 2026-07-18T00:00Z.
	text := calendar(
		vevent("before", "DTSTART:20260717T235959Z"),
		vevent("at", "DTSTART:20260718T000000Z"),
	)

	out := Trim(text, now, TrimOptions{})

	assert.NotContains(t, out, "UID:before\r\n")
	assert.Contains(t, out, "UID:at\r\n")
}

func TestTrimCapKeepsMostRecent(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	blocks := make([]string, 0, 2001)
	for i := 0; i < 2000; i++ {
		start := base.Add(time.Duration(i) * time.Hour).Format(layoutUTC)
		blocks = append(blocks, vevent(fmt.Sprintf("ev-%04d", i), "DTSTART:"+start))
	}
	blocks = append(blocks, vevent("rec", "DTSTART:20200101T090000Z", "RRULE:FREQ=DAILY"))
	text := calendar(blocks...)

	out := Trim(text, now, TrimOptions{})

	assert.Equal(t, DefaultMaxOneOffEvents+1, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "UID:rec\r\n")
	assert.Contains(t, out, "UID:ev-1999\r\n")
	assert.Contains(t, out, "UID:ev-0800\r\n")
	assert.NotContains(t, out, "UID:ev-0799\r\n")
	assert.Less(t, strings.Index(out, "UID:ev-0800"), strings.Index(out, "UID:ev-1999"))
}

func TestTrimCapAllStale(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	blocks := make([]string, 0, 2000)
	for i := 0; i < 2000; i++ {
		start := base.Add(time.Duration(i) * time.Hour).Format(layoutUTC)
		blocks = append(blocks, vevent(fmt.Sprintf("old-%04d", i), "DTSTART:"+start))
	}

	out := Trim(calendar(blocks...), now, TrimOptions{})

	assert.LessOrEqual(t, strings.Count(out, "BEGIN:VEVENT"), DefaultMaxOneOffEvents)
	assert.Equal(t, calendar(), out)
}

func TestTrimCapPrefersUnparseable(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	text := calendar(
		vevent("unknown", "DTSTART:garbage"),
		vevent("older", "DTSTART:20261001T090000Z"),
		vevent("newer", "DTSTART:20261015T090000Z"),
	)

	out := Trim(text, now, TrimOptions{MaxOneOff: 2})

	assert.Contains(t, out, "UID:unknown\r\n")
	assert.Contains(t, out, "UID:newer\r\n")
	assert.NotContains(t, out, "UID:older\r\n")
}

func TestParseCoarseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"20261016", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), true},
		{"20261016T101500Z", time.Date(2026, 10, 16, 10, 15, 0, 0, time.UTC), true},
		{"20261016T101500", time.Date(2026, 10, 16, 10, 15, 0, 0, time.UTC), true},
		{" 20261016 ", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), true},
		{"2026-10-16", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := parseCoarseDate(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, tc.want.Equal(got), "got %s", got)
			}
		})
	}
}
