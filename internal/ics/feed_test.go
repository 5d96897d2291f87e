package ics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcal/internal/model"
)

type fakeExpander struct {
	calls   int
	windows []Window
	result  Expansion
	err     error
	panics  bool
}

func (f *fakeExpander) Expand(_ string, w Window) (Expansion, error) {
	f.calls++
	f.windows = append(f.windows, w)
	if f.panics {
		panic("boom")
	}
	return f.result, f.err
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) CacheHit(string)  { o.hits++ }
func (o *countingObserver) CacheMiss(string) { o.misses++ }

func TestFeedParserTagsAndIdentifiesEvents(t *testing.T) {
	start := time.Date(2026, 10, 20, 7, 0, 0, 0, time.UTC)
	x := &fakeExpander{result: Expansion{
		Singles:   []Occurrence{{UID: "single-1", Summary: "Dentist", Start: start, End: start.Add(time.Hour)}},
		Recurring: []Occurrence{{UID: "gym", Summary: "Gym", Start: start, End: start.Add(time.Hour)}},
	}}
	p := NewFeedParser(x, NewParseCache(4), FeedParserOptions{})

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, berlin(t))
	events, err := p.Parse(calendar(), model.Person{ID: "papa"}, now)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "single-1", events[0].ID)
	assert.Equal(t, "gym-2026-10-20T07:00:00Z", events[1].ID)
	for _, e := range events {
		assert.Equal(t, []string{"papa"}, e.Persons)
	}

	require.Len(t, x.windows, 1)
	assert.True(t, x.windows[0].Start.Equal(time.Date(2026, 10, 2, 0, 0, 0, 0, berlin(t))))
	assert.True(t, x.windows[0].End.Equal(time.Date(2026, 10, 23, 0, 0, 0, 0, berlin(t))))
}

func TestFeedParserUsesCache(t *testing.T) {
	x := &fakeExpander{}
	obs := &countingObserver{}
	p := NewFeedParser(x, NewParseCache(4), FeedParserOptions{Observer: obs})
	person := model.Person{ID: "papa"}
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

	_, err := p.Parse(calendar(), person, now)
	require.NoError(t, err)
	_, err = p.Parse(calendar(), person, now.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, x.calls)

	// Another person with the same body is a separate entry.
	_, err = p.Parse(calendar(), model.Person{ID: "mama"}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, x.calls)

	// The window moves at midnight.
	_, err = p.Parse(calendar(), person, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, x.calls)

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 3, obs.misses)
}

func TestFeedParserErrorsAreNotCached(t *testing.T) {
	x := &fakeExpander{err: ErrNotCalendar}
	p := NewFeedParser(x, NewParseCache(4), FeedParserOptions{})
	person := model.Person{ID: "papa"}
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

	_, err := p.Parse("garbage", person, now)
	require.ErrorIs(t, err, ErrNotCalendar)
	_, err = p.Parse("garbage", person, now)
	require.ErrorIs(t, err, ErrNotCalendar)
	assert.Equal(t, 2, x.calls)
}

func TestFeedParserRecoversExpanderPanic(t *testing.T) {
	x := &fakeExpander{panics: true}
	p := NewFeedParser(x, nil, FeedParserOptions{})

	events, err := p.Parse(calendar(), model.Person{ID: "papa"}, time.Now())
	require.Error(t, err)
	assert.Nil(t, events)
	assert.Contains(t, err.Error(), "papa")
}

func TestFeedParserEndToEnd(t *testing.T) {
	loc := berlin(t)
	p := NewFeedParser(NewExpander(ExpanderOptions{Location: loc}), NewParseCache(4), FeedParserOptions{})
	text := calendar(
		vevent("school", "SUMMARY:School run", "DTSTART;TZID=Europe/Berlin:20261019T074500", "DTEND;TZID=Europe/Berlin:20261019T081500", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE"),
		vevent("party", "SUMMARY:Party", "DTSTART:20261017T150000Z", "DTEND:20261017T180000Z"),
	)

	events, err := p.Parse(text, model.Person{ID: "mama"}, time.Date(2026, 10, 16, 9, 0, 0, 0, loc))
	require.NoError(t, err)

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{
		"party",
		"school-2026-10-19T05:45:00Z",
		"school-2026-10-21T05:45:00Z",
	}, ids)
}

func TestFeedParserPropagatesExpanderError(t *testing.T) {
	boom := errors.New("boom")
	p := NewFeedParser(&fakeExpander{err: boom}, nil, FeedParserOptions{})

	_, err := p.Parse(calendar(), model.Person{ID: "papa"}, time.Now())
	assert.ErrorIs(t, err, boom)
}
