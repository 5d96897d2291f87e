package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"famcal/internal/model"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func timed(id, summary string, start time.Time, d time.Duration, persons ...string) model.Event {
	return model.Event{ID: id, Summary: summary, Start: start.UTC(), End: start.Add(d).UTC(), Persons: persons}
}

func allDay(id, summary string, start time.Time, days int, persons ...string) model.Event {
	return model.Event{ID: id, Summary: summary, Start: start, End: start.AddDate(0, 0, days), AllDay: true, Persons: persons}
}
