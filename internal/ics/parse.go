package ics

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const (
	layoutDate     = "20060102"
	layoutUTC      = "20060102T150405Z"
	layoutFloating = "20060102T150405"
)

var (
	ErrEmptyBody   = errors.New("empty ICS body")
	ErrNotCalendar = errors.New("payload is not an iCalendar document")

	durationRe = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

	textUnescaper = strings.NewReplacer(`\\`, `\`, `\,`, `,`, `\;`, `;`, `\n`, "\n", `\N`, "\n")
)

// parsedEvent is one VEVENT before recurrence expansion.
type parsedEvent struct {
	UID      string
	Summary  string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	RDates     []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overridden instances
}

// parseCalendar reads VEVENTs out of an ICS document. Date-only and floating
// values are interpreted in home; unknown TZIDs fall back to home as well.
// Individual malformed VEVENTs are skipped, a malformed document fails.
func parseCalendar(text string, home *time.Location) ([]parsedEvent, []error, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, ErrEmptyBody
	}
	if !strings.Contains(text, "BEGIN:VCALENDAR") {
		return nil, nil, ErrNotCalendar
	}

	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return nil, nil, fmt.Errorf("parse calendar: %w", err)
	}

	var (
		events []parsedEvent
		skips  []error
	)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, home)
		if perr != nil {
			skips = append(skips, perr)
			continue
		}
		events = append(events, ev)
	}
	return events, skips, nil
}

func parseVEvent(ve *ical.VEvent, home *time.Location) (parsedEvent, error) {
	var out parsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, fmt.Errorf("uid %s: missing DTSTART", out.UID)
	}
	start, allDay, err := parsePropTime(startProp.Value, startProp.ICalParameters, home)
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, _, err := parsePropTime(p.Value, p.ICalParameters, home)
		if err != nil {
			return out, fmt.Errorf("uid %s: DTEND: %w", out.UID, err)
		}
		out.End = end
	case ve.GetProperty(ical.ComponentPropertyDuration) != nil:
		d, err := parseDuration(ve.GetProperty(ical.ComponentPropertyDuration).Value)
		if err != nil {
			return out, fmt.Errorf("uid %s: DURATION: %w", out.UID, err)
		}
		out.End = out.Start.Add(d)
	case allDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	out.ExDates = parseTimeList(ve.GetProperties(ical.ComponentPropertyExdate), home)
	out.RDates = parseTimeList(ve.GetProperties(ical.ComponentPropertyRdate), home)

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, err := parsePropTime(p.Value, p.ICalParameters, home); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// parseTimeList reads comma-separated EXDATE/RDATE values, skipping
// entries that do not parse.
func parseTimeList(props []*ical.IANAProperty, home *time.Location) []time.Time {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parsePropTime(part, p.ICalParameters, home); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parsePropTime parses a DATE or DATE-TIME value honoring VALUE and TZID.
func parsePropTime(v string, params map[string][]string, home *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	vs := params[string(ical.ParameterValue)]
	if (len(vs) > 0 && strings.EqualFold(vs[0], "DATE")) || !strings.Contains(v, "T") {
		t, err := time.ParseInLocation(layoutDate, v, home)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTC, v)
		return t, false, err
	}

	loc := home
	if tzs := params[string(ical.ParameterTzid)]; len(tzs) > 0 && tzs[0] != "" {
		if l, err := time.LoadLocation(strings.Trim(tzs[0], `"`)); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(layoutFloating, v, loc)
	return t, false, err
}

// parseDuration handles the RFC 5545 dur-value subset (weeks, days, time).
func parseDuration(v string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, err
		}
		d += time.Duration(n) * unit
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
