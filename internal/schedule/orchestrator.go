package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"famcal/internal/ics"
	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// ErrNoFeeds is returned when Run is given no persons at all.
var ErrNoFeeds = errors.New("schedule: no calendar feeds configured")

const (
	StageFetch = "fetch"
	StageParse = "parse"

	AdvisoryNotConfigured = "Calendar not configured"
	AdvisoryUnavailable   = "Calendar temporarily unavailable, will retry"
)

// FeedSource fetches a raw ICS body for a feed URL.
type FeedSource interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

// Parser turns one feed body into person-tagged events.
type Parser interface {
	Parse(text string, person model.Person, now time.Time) ([]model.Event, error)
}

// RunObserver receives per-feed outcomes, typically metrics.
type RunObserver interface {
	FeedDone(personID, stage string, err error)
	RunDone(d time.Duration, events int)
}

// FeedError records why a feed contributed no events.
type FeedError struct {
	PersonID string `json:"person_id"`
	Stage    string `json:"stage"`
	Err      error  `json:"-"`
}

func (e FeedError) Error() string {
	return fmt.Sprintf("feed %s: %s: %v", e.PersonID, e.Stage, e.Err)
}

func (e FeedError) Unwrap() error { return e.Err }

// NotConfigured reports a configuration problem rather than an outage.
func (e FeedError) NotConfigured() bool {
	return errors.Is(e.Err, ics.ErrNotConfigured)
}

// Result is the outcome of one refresh.
type Result struct {
	// Days is always DaysInSchedule entries, even when every feed failed.
	Days []model.DaySchedule
	// Events is the deduplicated, unfiltered event set.
	Events []model.Event
	// Errors lists feeds that contributed nothing, in configuration order.
	Errors []FeedError
	// Succeeded counts feeds that were fetched and parsed.
	Succeeded   int
	GeneratedAt time.Time
}

// Advisory explains an all-feeds-down result. Empty when at least one feed
// succeeded or nothing failed.
func (r Result) Advisory() string {
	if r.Succeeded > 0 || len(r.Errors) == 0 {
		return ""
	}
	for _, fe := range r.Errors {
		if !fe.NotConfigured() {
			return AdvisoryUnavailable
		}
	}
	return AdvisoryNotConfigured
}

// Options configures an Orchestrator.
type Options struct {
	// StillRelevant is consulted after each fetch resolves. Returning false
	// discards that feed's body without recording an error, e.g. when the
	// configuration changed while the request was in flight.
	StillRelevant func(model.Person) bool
	// MaxConcurrency bounds parallel fetches. Zero means one per feed.
	MaxConcurrency int
	Observer       RunObserver
}

// Orchestrator fetches every feed concurrently, parses successful bodies in
// configuration order and runs Dedupe -> Filter -> Bucket.
type Orchestrator struct {
	source FeedSource
	parser Parser
	filter *Filter
	opts   Options
}

func NewOrchestrator(source FeedSource, parser Parser, filter *Filter, opts Options) *Orchestrator {
	if filter == nil {
		filter = NewFilter(FilterOptions{})
	}
	return &Orchestrator{source: source, parser: parser, filter: filter, opts: opts}
}

type fetched struct {
	body     string
	err      error
	obsolete bool
}

// Run refreshes the schedule. now is the home-timezone current instant and
// anchors both the expansion window and the seven-day buckets. Per-feed
// failures never fail the run; only an empty person list does.
func (o *Orchestrator) Run(ctx context.Context, persons []model.Person, now time.Time) (Result, error) {
	if len(persons) == 0 {
		return Result{Days: EmptyWeek(now), GeneratedAt: now}, ErrNoFeeds
	}
	started := time.Now()

	bodies := o.fetchAll(ctx, persons)

	var (
		all       []model.Event
		errs      []FeedError
		succeeded int
	)
	for i, person := range persons {
		res := bodies[i]
		if res.obsolete {
			appLog.Debug("schedule: dropping stale feed result", "id", person.ID)
			continue
		}
		if res.err != nil {
			errs = append(errs, o.fail(person.ID, StageFetch, res.err))
			continue
		}

		events, err := o.parser.Parse(res.body, person, now)
		o.observe(person.ID, StageParse, err)
		if err != nil {
			errs = append(errs, o.fail(person.ID, StageParse, err))
			continue
		}
		succeeded++
		all = append(all, events...)
	}

	result := Result{Errors: errs, Succeeded: succeeded, GeneratedAt: now}
	if len(all) == 0 {
		result.Days = EmptyWeek(now)
	} else {
		result.Events = Dedupe(all)
		result.Days = Bucket(o.filter.Apply(result.Events), now)
	}

	if o.opts.Observer != nil {
		o.opts.Observer.RunDone(time.Since(started), len(result.Events))
	}
	appLog.Info("schedule refreshed",
		"feeds", len(persons),
		"succeeded", succeeded,
		"failed", len(errs),
		"events", len(result.Events),
	)
	return result, nil
}

// fetchAll fetches every feed concurrently. Results are indexed by person
// position so arrival order cannot leak into the output.
func (o *Orchestrator) fetchAll(ctx context.Context, persons []model.Person) []fetched {
	out := make([]fetched, len(persons))

	workers := o.opts.MaxConcurrency
	if workers <= 0 {
		workers = len(persons)
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i, person := range persons {
		i, person := i, person
		p.Go(func() {
			body, err := o.source.Fetch(ctx, person.URL)
			if o.opts.StillRelevant != nil && !o.opts.StillRelevant(person) {
				out[i] = fetched{obsolete: true}
				return
			}
			o.observe(person.ID, StageFetch, err)
			out[i] = fetched{body: body, err: err}
		})
	}
	p.Wait()
	return out
}

func (o *Orchestrator) fail(personID, stage string, err error) FeedError {
	appLog.Error("schedule: feed contributed no events", err, "id", personID, "stage", stage)
	return FeedError{PersonID: personID, Stage: stage, Err: err}
}

func (o *Orchestrator) observe(personID, stage string, err error) {
	if o.opts.Observer != nil {
		o.opts.Observer.FeedDone(personID, stage, err)
	}
}
