package ics

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	DefaultTrimLookbackDays = 90
	DefaultMaxOneOffEvents  = 1200
)

var (
	veventBlockRe = regexp.MustCompile(`(?s)BEGIN:VEVENT.*?END:VEVENT\r?\n?`)
	dtstartLineRe = regexp.MustCompile(`(?m)^DTSTART[^:\r\n]*:([^\r\n]+)`)
	rruleLineRe   = regexp.MustCompile(`(?m)^RRULE:`)

	dateOnlyRe     = regexp.MustCompile(`^(\d{8})$`)
	utcDateTimeRe  = regexp.MustCompile(`^(\d{8}T\d{6})Z$`)
	floatingTimeRe = regexp.MustCompile(`^(\d{8}T\d{6})$`)
)

// TrimOptions bounds how many one-off VEVENT blocks survive trimming.
type TrimOptions struct {
	// LookbackDays drops one-off events starting before today minus this
	// many days. Zero uses DefaultTrimLookbackDays.
	LookbackDays int
	// MaxOneOff caps the surviving one-off events. Zero uses
	// DefaultMaxOneOffEvents.
	MaxOneOff int
}

func (o TrimOptions) withDefaults() TrimOptions {
	if o.LookbackDays <= 0 {
		o.LookbackDays = DefaultTrimLookbackDays
	}
	if o.MaxOneOff <= 0 {
		o.MaxOneOff = DefaultMaxOneOffEvents
	}
	return o
}

type eventBlock struct {
	index int
	text  string
	start time.Time
	known bool // start parsed
}

// Trim removes stale one-off VEVENT blocks from a raw ICS document before
// expansion. Blocks carrying an RRULE are always kept, the calendar prefix
// and suffix are preserved verbatim and the selected blocks keep their
// original order. When nothing is dropped the input is returned unchanged.
//
// now only anchors "today"; its location is the home timezone.
func Trim(text string, now time.Time, opts TrimOptions) string {
	opts = opts.withDefaults()

	locs := veventBlockRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}

	prefix := text[:locs[0][0]]
	suffix := text[locs[len(locs)-1][1]:]
	cutoff := startOfDay(now).AddDate(0, 0, -opts.LookbackDays)

	var (
		recurring []eventBlock
		oneOff    []eventBlock
	)
	for i, loc := range locs {
		b := eventBlock{index: i, text: text[loc[0]:loc[1]]}
		b.start, b.known = blockStart(b.text)

		if rruleLineRe.MatchString(b.text) {
			recurring = append(recurring, b)
			continue
		}
		// Unparseable starts are kept; they cannot be proven stale.
		if !b.known || !b.start.Before(cutoff) {
			oneOff = append(oneOff, b)
		}
	}

	if len(oneOff) > opts.MaxOneOff {
		// Most recent first; unknown starts rank as newest so they are the
		// last to be dropped.
		ranked := slices.Clone(oneOff)
		slices.SortStableFunc(ranked, func(a, b eventBlock) int {
			switch {
			case !a.known && !b.known:
				return 0
			case !a.known:
				return -1
			case !b.known:
				return 1
			}
			return b.start.Compare(a.start)
		})
		oneOff = ranked[:opts.MaxOneOff]
	}

	if len(recurring)+len(oneOff) == len(locs) {
		return text
	}

	selected := append(recurring, oneOff...)
	slices.SortFunc(selected, func(a, b eventBlock) int { return a.index - b.index })

	var sb strings.Builder
	sb.Grow(len(prefix) + len(suffix) + len(selected)*256)
	sb.WriteString(prefix)
	for _, b := range selected {
		sb.WriteString(b.text)
	}
	sb.WriteString(suffix)
	return sb.String()
}

// blockStart extracts a coarse DTSTART from a VEVENT block. Floating and
// date-only values are read as UTC; precision here only decides "old or not".
func blockStart(block string) (time.Time, bool) {
	m := dtstartLineRe.FindStringSubmatch(block)
	if m == nil {
		return time.Time{}, false
	}
	return parseCoarseDate(m[1])
}

func parseCoarseDate(raw string) (time.Time, bool) {
	v := strings.TrimSpace(raw)
	var (
		t   time.Time
		err error
	)
	switch {
	case dateOnlyRe.MatchString(v):
		t, err = time.Parse(layoutDate, v)
	case utcDateTimeRe.MatchString(v):
		t, err = time.Parse(layoutUTC, v)
	case floatingTimeRe.MatchString(v):
		t, err = time.Parse(layoutFloating, v)
	default:
		return time.Time{}, false
	}
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
