// Package travel guesses where family members are travelling from their
// upcoming calendar events. Each guess is a free-text query meant for an
// external geocoder.
package travel

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"famcal/internal/model"
)

const (
	defaultHomePattern = `(?i)berlin|germany|deutschland`
	// upcomingGrace keeps events that ended within the last 12 hours.
	upcomingGrace = 12 * time.Hour
)

var (
	travelHintRe = regexp.MustCompile(`(?i)\b(flight|trip|travel|hotel|stay|conference|quiltcon|vacation)\b`)

	prepositionRe = regexp.MustCompile(`(?i)\b(?:to|in|at)\s+([A-Za-z][A-Za-z.'-]*(?:\s+[A-Za-z][A-Za-z.'-]*){0,3}(?:,\s*[A-Za-z. ]{2,20})?)`)
	labelRe       = regexp.MustCompile(`^[^:]{2,40}:\s*([A-Za-z][A-Za-z.'-]*(?:\s+[A-Za-z][A-Za-z.'-]*){0,3}(?:,\s*[A-Za-z. ]{2,20})?)`)
	placeOnlyRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z.'-]*(?:\s+[A-Za-z][A-Za-z.'-]*){0,3}(?:,\s*[A-Za-z. ]{2,20})?$`)
	notPlaceRe    = regexp.MustCompile(`(?i)\b(call|meeting|review|sync|chat|hold|block|dentist|doctor|appointment|school|kita)\b`)

	edgeTrimRe = regexp.MustCompile(`^[\s\-:;,]+|[\s\-:;,]+$`)
	spaceRe    = regexp.MustCompile(`\s+`)
	urlRe      = regexp.MustCompile(`(?i)^https?://`)
)

// Strategy extracts a destination from an event summary.
type Strategy struct {
	Name    string
	Extract func(summary string) (string, bool)
}

// SummaryStrategies are tried in order; the first hit wins.
var SummaryStrategies = []Strategy{
	{Name: "preposition", Extract: captureWith(prepositionRe)},
	{Name: "label", Extract: captureWith(labelRe)},
	{Name: "place-only", Extract: placeOnly},
}

// Candidate is one destination guess.
type Candidate struct {
	Query    string    `json:"query"`
	PersonID string    `json:"person_id,omitempty"`
	Start    time.Time `json:"start"`
	Source   string    `json:"source"`
}

// Options configures an Extractor.
type Options struct {
	// SharedPersonID is skipped when attributing a candidate, e.g. "family".
	SharedPersonID string
	// Home matches text naming the home area. Nil uses Berlin/Germany.
	Home *regexp.Regexp
}

type Extractor struct {
	shared string
	home   *regexp.Regexp
}

func NewExtractor(opts Options) *Extractor {
	if opts.Home == nil {
		opts.Home = regexp.MustCompile(defaultHomePattern)
	}
	return &Extractor{shared: opts.SharedPersonID, home: opts.Home}
}

// Candidates lists destination guesses from events that have not ended more
// than 12 hours before now, earliest first, deduplicated per person and
// case-insensitive query.
func (x *Extractor) Candidates(events []model.Event, now time.Time) []Candidate {
	upcoming := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.End.After(now.Add(-upcomingGrace)) {
			upcoming = append(upcoming, ev)
		}
	}
	slices.SortStableFunc(upcoming, func(a, b model.Event) int { return a.Start.Compare(b.Start) })

	var out []Candidate
	seen := make(map[string]struct{})
	add := func(c Candidate) {
		k := c.PersonID + "|" + strings.ToLower(c.Query)
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}

	for _, ev := range upcoming {
		person := x.personOf(ev)

		location := strings.TrimSpace(ev.Location)
		if location != "" && !x.home.MatchString(location) {
			add(Candidate{Query: location, PersonID: person, Start: ev.Start, Source: "location"})
		}

		dest, source, ok := ExtractDestination(ev.Summary)
		if !ok || x.home.MatchString(dest) {
			continue
		}
		if travelHintRe.MatchString(ev.Summary) || location == "" {
			add(Candidate{Query: dest, PersonID: person, Start: ev.Start, Source: source})
		}
	}
	return out
}

// ExtractDestination runs SummaryStrategies in order and reports which one
// matched.
func ExtractDestination(summary string) (string, string, bool) {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(summary, " "))
	if s == "" {
		return "", "", false
	}
	for _, st := range SummaryStrategies {
		if dest, ok := st.Extract(s); ok {
			return dest, st.Name, true
		}
	}
	return "", "", false
}

func (x *Extractor) personOf(ev model.Event) string {
	for _, p := range ev.Persons {
		if p != x.shared {
			return p
		}
	}
	if len(ev.Persons) > 0 {
		return ev.Persons[0]
	}
	return ""
}

func captureWith(re *regexp.Regexp) func(string) (string, bool) {
	return func(s string) (string, bool) {
		m := re.FindStringSubmatch(s)
		if m == nil {
			return "", false
		}
		return normalize(m[1])
	}
}

func placeOnly(s string) (string, bool) {
	if !placeOnlyRe.MatchString(s) || notPlaceRe.MatchString(s) {
		return "", false
	}
	return normalize(s)
}

func normalize(text string) (string, bool) {
	n := edgeTrimRe.ReplaceAllString(text, "")
	n = strings.TrimSpace(spaceRe.ReplaceAllString(n, " "))
	if len(n) < 2 || urlRe.MatchString(n) {
		return "", false
	}
	return n, true
}
