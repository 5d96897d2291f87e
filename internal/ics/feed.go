package ics

import (
	"fmt"
	"time"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// RecurrenceExpander is the expansion step used by FeedParser.
type RecurrenceExpander interface {
	Expand(text string, w Window) (Expansion, error)
}

// CacheObserver receives parse cache outcomes, typically metrics.
type CacheObserver interface {
	CacheHit(feedID string)
	CacheMiss(feedID string)
}

// FeedParserOptions configures a FeedParser.
type FeedParserOptions struct {
	Trim TrimOptions

	// LookbackDays/AheadDays shape the expansion window around today.
	// Zero values use DefaultLookbackDays/DefaultAheadDays.
	LookbackDays int
	AheadDays    int

	Observer CacheObserver
}

// FeedParser runs Trim -> Expand for one feed and tags the results with the
// owning person, consulting the parse cache first.
type FeedParser struct {
	expander RecurrenceExpander
	cache    *ParseCache
	opts     FeedParserOptions
}

func NewFeedParser(expander RecurrenceExpander, cache *ParseCache, opts FeedParserOptions) *FeedParser {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.AheadDays <= 0 {
		opts.AheadDays = DefaultAheadDays
	}
	if cache == nil {
		cache = NewParseCache(DefaultParseCacheSize)
	}
	return &FeedParser{expander: expander, cache: cache, opts: opts}
}

// Parse returns the events of one feed. now is the home-timezone current
// instant. The returned slice may be shared with the cache.
func (p *FeedParser) Parse(text string, person model.Person, now time.Time) (events []model.Event, err error) {
	window := NewWindow(now, p.opts.LookbackDays, p.opts.AheadDays)

	// The window moves at midnight; a feed parsed yesterday is not reusable.
	identity := person.ID + "@" + window.Start.Format(time.DateOnly)

	if cached, ok := p.cache.Get(identity, text); ok {
		p.observe(true, person.ID)
		return cached, nil
	}
	p.observe(false, person.ID)

	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = fmt.Errorf("parse feed %s: expander panic: %v", person.ID, r)
		}
	}()

	trimmed := Trim(text, now, p.opts.Trim)
	if len(trimmed) != len(text) {
		appLog.Debug("ics trimmed", "id", person.ID, "bytes_in", len(text), "bytes_out", len(trimmed))
	}

	exp, err := p.expander.Expand(trimmed, window)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", person.ID, err)
	}

	events = make([]model.Event, 0, len(exp.Singles)+len(exp.Recurring))
	for _, occ := range exp.Singles {
		events = append(events, toEvent(occ, occ.UID, person.ID))
	}
	for _, occ := range exp.Recurring {
		id := occ.UID + "-" + occ.Start.UTC().Format(time.RFC3339)
		events = append(events, toEvent(occ, id, person.ID))
	}

	appLog.Info("ics parse completed",
		"id", person.ID,
		"singles", len(exp.Singles),
		"occurrences", len(exp.Recurring),
		"truncated", len(exp.Truncated),
	)

	p.cache.Put(identity, text, events)
	return events, nil
}

func (p *FeedParser) observe(hit bool, feedID string) {
	if p.opts.Observer == nil {
		return
	}
	if hit {
		p.opts.Observer.CacheHit(feedID)
		return
	}
	p.opts.Observer.CacheMiss(feedID)
}

func toEvent(occ Occurrence, id, personID string) model.Event {
	return model.Event{
		ID:       id,
		Summary:  occ.Summary,
		Location: occ.Location,
		Start:    occ.Start,
		End:      occ.End,
		AllDay:   occ.AllDay,
		Persons:  []string{personID},
	}
}
