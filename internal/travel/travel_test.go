package travel

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcal/internal/model"
)

func TestExtractDestination(t *testing.T) {
	cases := []struct {
		summary  string
		dest     string
		strategy string
	}{
		{"Flight to Lisbon", "Lisbon", "preposition"},
		{"Trip to New York, USA", "New York, USA", "preposition"},
		{"Meeting in   Hamburg", "Hamburg", "preposition"},
		{"Conference: Amsterdam", "Amsterdam", "label"},
		{"Lisbon", "Lisbon", "place-only"},
	}
	for _, tc := range cases {
		t.Run(tc.summary, func(t *testing.T) {
			dest, strategy, ok := ExtractDestination(tc.summary)
			require.True(t, ok)
			assert.Equal(t, tc.dest, dest)
			assert.Equal(t, tc.strategy, strategy)
		})
	}
}

func TestExtractDestinationRejects(t *testing.T) {
	for _, s := range []string{"", "   ", "Dentist", "Call at 10", "School pickup"} {
		_, _, ok := ExtractDestination(s)
		assert.False(t, ok, s)
	}
}

func TestCandidates(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	at := func(days int) time.Time { return now.AddDate(0, 0, days) }
	ev := func(summary, location string, start time.Time, persons ...string) model.Event {
		return model.Event{Summary: summary, Location: location, Start: start, End: start.Add(2 * time.Hour), Persons: persons}
	}

	events := []model.Event{
		ev("Conference in Barcelona", "Hotel Arts, Barcelona", at(3), "mama"),
		ev("Flight to Lisbon", "", at(2), "family", "papa"),
		ev("Dentist", "Berlin Mitte", at(1), "mama"),
		ev("Trip to Paris", "", at(-2), "papa"),
		ev("flight to lisbon", "", at(4), "papa"),
		ev("Dinner at Luigi", "Munich", at(5), "papa"),
	}

	x := NewExtractor(Options{SharedPersonID: "family"})
	got := x.Candidates(events, now)

	type brief struct{ query, person, source string }
	var briefs []brief
	for _, c := range got {
		briefs = append(briefs, brief{c.Query, c.PersonID, c.Source})
	}
	assert.Equal(t, []brief{
		{"Lisbon", "papa", "preposition"},
		{"Hotel Arts, Barcelona", "mama", "location"},
		{"Barcelona", "mama", "preposition"},
		{"Munich", "papa", "location"},
	}, briefs)
}

func TestCandidatesKeepsRecentlyEnded(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	events := []model.Event{{
		Summary: "Hotel stay in Vienna",
		Start:   now.Add(-30 * time.Hour),
		End:     now.Add(-6 * time.Hour),
		Persons: []string{"family"},
	}}

	got := NewExtractor(Options{SharedPersonID: "family"}).Candidates(events, now)
	require.Len(t, got, 1)
	assert.Equal(t, "Vienna", got[0].Query)
	assert.Equal(t, "family", got[0].PersonID)
}

func TestCandidatesCustomHome(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	events := []model.Event{
		{Summary: "Trip to Leeds", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), Persons: []string{"papa"}},
		{Summary: "Trip to Berlin", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), Persons: []string{"papa"}},
	}

	got := NewExtractor(Options{Home: regexp.MustCompile(`(?i)leeds`)}).Candidates(events, now)
	require.Len(t, got, 1)
	assert.Equal(t, "Berlin", got[0].Query)
}
