package schedule

import (
	"regexp"
	"time"

	"famcal/internal/model"
)

// DefaultNoSchoolPattern matches English and German "no school" days.
const DefaultNoSchoolPattern = `(?i)schulfrei|no school|kein unterricht`

// SuppressWindow describes when a work-calendar owner's solo events are
// hidden. Hours are evaluated in the home timezone: StartHour <= h < EndHour.
type SuppressWindow struct {
	Weekdays      []time.Weekday
	StartHour     int
	EndHour       int
	IncludeAllDay bool
}

// WorkHours is the weekday 09:00-17:00 window, timed events only.
func WorkHours() SuppressWindow {
	return SuppressWindow{
		Weekdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHour: 9,
		EndHour:   17,
	}
}

// BeforeEvening hides everything starting before 18:00 on any day,
// all-day events included.
func BeforeEvening() SuppressWindow {
	return SuppressWindow{
		Weekdays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		StartHour:     0,
		EndHour:       18,
		IncludeAllDay: true,
	}
}

// Contains reports whether e starts inside the window in loc.
func (w SuppressWindow) Contains(e model.Event, loc *time.Location) bool {
	if e.AllDay {
		if !w.IncludeAllDay {
			return false
		}
		return w.onDay(e.Start.In(loc).Weekday())
	}
	local := e.Start.In(loc)
	if !w.onDay(local.Weekday()) {
		return false
	}
	h := local.Hour()
	return h >= w.StartHour && h < w.EndHour
}

func (w SuppressWindow) onDay(d time.Weekday) bool {
	for _, wd := range w.Weekdays {
		if wd == d {
			return true
		}
	}
	return false
}

// FilterOptions configures a Filter.
type FilterOptions struct {
	Location *time.Location
	// WorkPersons lists person ids flagged as work calendars.
	WorkPersons []string
	Suppress    SuppressWindow
	// NoSchool overrides DefaultNoSchoolPattern when non-nil.
	NoSchool *regexp.Regexp
}

// Filter hides solo work-calendar events during the suppress window and
// flags "no school" all-day events.
type Filter struct {
	loc      *time.Location
	work     map[string]struct{}
	suppress SuppressWindow
	noSchool *regexp.Regexp
}

func NewFilter(opts FilterOptions) *Filter {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.NoSchool == nil {
		opts.NoSchool = regexp.MustCompile(DefaultNoSchoolPattern)
	}
	work := make(map[string]struct{}, len(opts.WorkPersons))
	for _, id := range opts.WorkPersons {
		work[id] = struct{}{}
	}
	return &Filter{
		loc:      opts.Location,
		work:     work,
		suppress: opts.Suppress,
		noSchool: opts.NoSchool,
	}
}

// Apply drops suppressed events and annotates the rest. The result is a new
// slice; input events are not modified.
func (f *Filter) Apply(events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if f.suppressed(ev) {
			continue
		}
		ev.Schulfrei = ev.AllDay && f.noSchool.MatchString(ev.Summary)
		out = append(out, ev)
	}
	return out
}

// suppressed: exactly one owner, that owner is a work calendar, and the
// event sits in the suppress window. Shared events always stay.
func (f *Filter) suppressed(ev model.Event) bool {
	if len(ev.Persons) != 1 {
		return false
	}
	if _, ok := f.work[ev.Persons[0]]; !ok {
		return false
	}
	return f.suppress.Contains(ev, f.loc)
}
