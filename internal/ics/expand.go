package ics

import (
	"errors"
	"math"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "famcal/internal/log"
)

const (
	DefaultMaxIterations = 300
	// DefaultMaxSkipped bounds iterator steps spent walking from an old
	// DTSTART up to the window. A daily rule started 30 years ago needs
	// roughly 11k steps.
	DefaultMaxSkipped = 50000

	DefaultLookbackDays = 14
	DefaultAheadDays    = 7
)

// Window is the half-open range [Start, End) occurrences are drawn from.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow returns [today-14d, today+7d) anchored at midnight of today
// in today's location. The lookback keeps multi-day trips in progress visible.
func DefaultWindow(today time.Time) Window {
	return NewWindow(today, DefaultLookbackDays, DefaultAheadDays)
}

// NewWindow returns [today-lookback, today+ahead) at day granularity.
func NewWindow(today time.Time, lookbackDays, aheadDays int) Window {
	d := startOfDay(today)
	return Window{Start: d.AddDate(0, 0, -lookbackDays), End: d.AddDate(0, 0, aheadDays)}
}

// Occurrence is one concrete instance produced by the Expander.
type Occurrence struct {
	UID      string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Expansion splits occurrences into standalone events and instances of
// recurring events.
type Expansion struct {
	Singles   []Occurrence
	Recurring []Occurrence
	// Truncated records UIDs whose expansion stopped at an iteration cap.
	Truncated []string
	// Skipped counts VEVENTs dropped as malformed.
	Skipped int
}

// ExpanderOptions configures an Expander.
type ExpanderOptions struct {
	// Location interprets floating and date-only values. Nil means UTC.
	Location *time.Location
	// MaxIterations caps iterator steps inside the window per recurring
	// event. Zero uses DefaultMaxIterations.
	MaxIterations int
	// MaxSkipped caps iterator steps before the window. Zero uses
	// DefaultMaxSkipped.
	MaxSkipped int
}

// Expander turns ICS text into occurrences within a bounded window. It never
// asks rrule-go for "all" occurrences; each rule is walked through its
// iterator with explicit caps so malformed or open-ended rules terminate.
type Expander struct {
	loc           *time.Location
	maxIterations int
	maxSkipped    int
}

func NewExpander(opts ExpanderOptions) *Expander {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxSkipped <= 0 {
		opts.MaxSkipped = DefaultMaxSkipped
	}
	return &Expander{
		loc:           opts.Location,
		maxIterations: opts.MaxIterations,
		maxSkipped:    opts.MaxSkipped,
	}
}

// Expand parses text and returns occurrences overlapping w. Single events
// are kept when they overlap the window; recurring instances when their
// start falls inside it.
func (x *Expander) Expand(text string, w Window) (Expansion, error) {
	var result Expansion

	if w.Start.IsZero() || w.End.IsZero() {
		return result, errors.New("expand: window must be bounded")
	}
	if !w.End.After(w.Start) {
		return result, errors.New("expand: window end is not after start")
	}

	events, skips, err := parseCalendar(text, x.loc)
	if err != nil {
		return result, err
	}
	result.Skipped = len(skips)
	for _, serr := range skips {
		appLog.Debug("expand: skipped malformed VEVENT", "reason", serr.Error())
	}

	// Group base events and overrides by UID.
	overridesByUID := make(map[string][]parsedEvent)
	bases := make([]parsedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	for _, ev := range bases {
		if ev.RawRRule == "" {
			if overlaps(ev.Start, ev.End, w) {
				result.Singles = append(result.Singles, makeOccurrence(ev, ev.Start, ev.End))
			}
			continue
		}

		occ, hitCap := x.expandRecurring(ev, overridesByUID[ev.UID], w)
		result.Recurring = append(result.Recurring, occ...)
		if hitCap {
			result.Truncated = append(result.Truncated, ev.UID)
			appLog.Info("expand: recurrence truncated at iteration cap",
				"uid", ev.UID,
				"cap", x.maxIterations,
			)
		}
	}

	// Overrides whose base is missing or outside the feed still describe a
	// concrete instance.
	for uid, ovs := range overridesByUID {
		if hasBase(bases, uid) {
			continue
		}
		for _, ov := range ovs {
			if overlaps(ov.Start, ov.End, w) {
				result.Singles = append(result.Singles, makeOccurrence(ov, ov.Start, ov.End))
			}
		}
	}

	return result, nil
}

func (x *Expander) expandRecurring(ev parsedEvent, overrides []parsedEvent, w Window) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, rd := range ev.RDates {
		set.RDate(rd.In(ev.Start.Location()))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	allDayDays := 0
	if ev.AllDay {
		allDayDays = int(math.Round(ev.End.Sub(ev.Start).Hours() / 24))
		if allDayDays < 1 {
			allDayDays = 1
		}
	}
	dur := ev.End.Sub(ev.Start)

	used := make([]bool, len(overrides))
	var (
		out     []Occurrence
		skipped int
		steps   int
	)
	next := set.Iterator()
	for {
		occStart, ok := next()
		if !ok {
			return withMovedIn(out, overrides, used, w), false
		}
		if occStart.Before(w.Start) {
			skipped++
			if skipped > x.maxSkipped {
				return withMovedIn(out, overrides, used, w), true
			}
			continue
		}
		if !occStart.Before(w.End) {
			return withMovedIn(out, overrides, used, w), false
		}
		steps++
		if steps > x.maxIterations {
			return withMovedIn(out, overrides, used, w), true
		}

		if i, found := findOverride(overrides, occStart); found {
			used[i] = true
			// A rescheduled instance counts where it now happens.
			if o := overrides[i]; overlaps(o.Start, o.End, w) {
				out = append(out, makeOccurrence(o, o.Start, o.End))
			}
			continue
		}

		var occEnd time.Time
		if ev.AllDay {
			occStart = startOfDay(occStart)
			occEnd = occStart.AddDate(0, 0, allDayDays)
		} else {
			occEnd = occStart.Add(dur)
		}
		out = append(out, makeOccurrence(ev, occStart, occEnd))
	}
}

// withMovedIn adds overrides whose original slot was never visited inside
// the window but whose rescheduled time overlaps it, then orders by start.
func withMovedIn(out []Occurrence, overrides []parsedEvent, used []bool, w Window) []Occurrence {
	added := false
	for i, o := range overrides {
		if used[i] || !overlaps(o.Start, o.End, w) {
			continue
		}
		out = append(out, makeOccurrence(o, o.Start, o.End))
		added = true
	}
	if added {
		slices.SortStableFunc(out, func(a, b Occurrence) int { return a.Start.Compare(b.Start) })
	}
	return out
}

// findOverride returns the index of the override whose RECURRENCE-ID equals
// start.
func findOverride(overrides []parsedEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

func hasBase(bases []parsedEvent, uid string) bool {
	for _, b := range bases {
		if b.UID == uid && b.RawRRule != "" {
			return true
		}
	}
	return false
}

// makeOccurrence normalizes timed instants to UTC; all-day values keep their
// midnight-in-home representation.
func makeOccurrence(ev parsedEvent, start, end time.Time) Occurrence {
	if !ev.AllDay {
		start, end = start.UTC(), end.UTC()
	}
	return Occurrence{
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		Start:    start,
		End:      end,
		AllDay:   ev.AllDay,
	}
}

// overlaps reports whether [start, end) intersects w. Zero-length events
// count when their instant lies inside the window.
func overlaps(start, end time.Time, w Window) bool {
	if end.Equal(start) {
		return !start.Before(w.Start) && start.Before(w.End)
	}
	return start.Before(w.End) && end.After(w.Start)
}
