package model

import (
	"slices"
	"time"
)

// Person is one configured calendar owner. One entry usually stands for the
// shared family calendar rather than a single human.
type Person struct {
	ID    string
	Name  string
	Emoji string

	// URL is the person's ICS feed. Empty means the feed is not configured.
	URL string

	// WorkCalendar marks the feed whose solo events are hidden during
	// working hours.
	WorkCalendar bool

	// Optional travel override used by presentation to show a second clock.
	TravelTimezone string
	TravelLocation string
}

// Event is a single concrete occurrence ready for display.
//
// Start/End are absolute instants. Timed events are normalized to UTC;
// all-day events keep midnight in the home timezone so day arithmetic stays
// calendar-aligned.
type Event struct {
	// ID is the source UID for single events and UID plus the RFC3339 start
	// instant for recurring occurrences.
	ID string `json:"id"`

	Summary  string `json:"summary"`
	Location string `json:"location,omitempty"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	// Persons owning this occurrence. Never empty, never duplicated.
	Persons []string `json:"persons"`

	// Schulfrei flags all-day "no school" events.
	Schulfrei bool `json:"schulfrei,omitempty"`
}

// HasPerson reports whether id is one of the event's owners.
func (e Event) HasPerson(id string) bool {
	return slices.Contains(e.Persons, id)
}

// Clone returns a copy that does not share the Persons backing array.
func (e Event) Clone() Event {
	e.Persons = slices.Clone(e.Persons)
	return e
}

// DaySchedule is one home-timezone calendar day and its ordered events.
type DaySchedule struct {
	Date    time.Time `json:"date"`
	DateStr string    `json:"date_str"`
	Events  []Event   `json:"events"`
}
