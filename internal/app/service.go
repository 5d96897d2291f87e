package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"slices"
	"sync"
	"time"

	"famcal/internal/config"
	"famcal/internal/ics"
	appLog "famcal/internal/log"
	"famcal/internal/metrics"
	"famcal/internal/model"
	"famcal/internal/schedule"
	"famcal/internal/travel"
)

// Service owns the refresh pipeline and the latest computed schedule.
// Refreshes are serialized; readers never block on a running refresh.
type Service struct {
	orch   *schedule.Orchestrator
	travel *travel.Extractor
	loc    *time.Location
	now    func() time.Time

	personsMu sync.RWMutex
	persons   []model.Person

	refreshMu sync.Mutex

	latestMu sync.RWMutex
	latest   *schedule.Result
}

// Deps overrides collaborators, mainly for tests. Zero fields use the
// production implementations.
type Deps struct {
	Source  schedule.FeedSource
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// New wires fetcher, expander, parse cache, filter and orchestrator from cfg.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("home timezone: %w", err)
	}
	weekdays, err := cfg.SuppressWeekdays()
	if err != nil {
		return nil, err
	}
	var noSchool *regexp.Regexp
	if cfg.NoSchoolPattern != "" {
		if noSchool, err = regexp.Compile(cfg.NoSchoolPattern); err != nil {
			return nil, fmt.Errorf("no_school_pattern: %w", err)
		}
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Source == nil {
		deps.Source = ics.NewFetcher(ics.FetcherOptions{
			ProxyURL: cfg.ProxyURL,
			Direct:   cfg.Fetch.Direct,
			Client:   &http.Client{Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second},
			Attempts: cfg.Fetch.Attempts,
			Backoff:  time.Duration(cfg.Fetch.BackoffMillis) * time.Millisecond,
		})
	}

	parserOpts := ics.FeedParserOptions{
		Trim:         ics.TrimOptions{LookbackDays: cfg.Trim.LookbackDays, MaxOneOff: cfg.Trim.MaxOneOff},
		LookbackDays: cfg.Window.LookbackDays,
		AheadDays:    cfg.Window.AheadDays,
	}
	orchOpts := schedule.Options{}
	if deps.Metrics != nil {
		parserOpts.Observer = deps.Metrics
		orchOpts.Observer = deps.Metrics
	}

	parser := ics.NewFeedParser(
		ics.NewExpander(ics.ExpanderOptions{Location: loc, MaxIterations: cfg.Expand.MaxIterations}),
		ics.NewParseCache(cfg.CacheSize),
		parserOpts,
	)
	filter := schedule.NewFilter(schedule.FilterOptions{
		Location:    loc,
		WorkPersons: cfg.WorkPersonIDs(),
		Suppress: schedule.SuppressWindow{
			Weekdays:      weekdays,
			StartHour:     cfg.Suppress.StartHour,
			EndHour:       cfg.Suppress.EndHour,
			IncludeAllDay: cfg.Suppress.IncludeAllDay,
		},
		NoSchool: noSchool,
	})

	s := &Service{
		travel:  travel.NewExtractor(travel.Options{SharedPersonID: cfg.SharedPersonID}),
		loc:     loc,
		now:     deps.Now,
		persons: cfg.People(),
	}
	orchOpts.StillRelevant = s.stillRelevant
	s.orch = schedule.NewOrchestrator(deps.Source, parser, filter, orchOpts)
	return s, nil
}

// Refresh fetches all feeds and replaces the latest schedule. Failed feeds
// are reported in the result, not as an error.
func (s *Service) Refresh(ctx context.Context) (schedule.Result, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	res, err := s.orch.Run(ctx, s.Persons(), s.now().In(s.loc))
	if err != nil {
		return res, err
	}

	s.latestMu.Lock()
	s.latest = &res
	s.latestMu.Unlock()
	return res, nil
}

// Latest returns the most recent schedule. Before the first refresh it
// returns an empty week and false.
func (s *Service) Latest() (schedule.Result, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	if s.latest == nil {
		now := s.now().In(s.loc)
		return schedule.Result{Days: schedule.EmptyWeek(now), GeneratedAt: now}, false
	}
	return *s.latest, true
}

// TravelCandidates guesses destinations from the latest unfiltered events.
func (s *Service) TravelCandidates() []travel.Candidate {
	res, _ := s.Latest()
	return s.travel.Candidates(res.Events, s.now())
}

// Persons returns a copy of the configured persons.
func (s *Service) Persons() []model.Person {
	s.personsMu.RLock()
	defer s.personsMu.RUnlock()
	return slices.Clone(s.persons)
}

// SetPersons swaps the feed configuration. Fetches still in flight for
// removed or re-pointed feeds are discarded when they resolve.
func (s *Service) SetPersons(persons []model.Person) {
	s.personsMu.Lock()
	s.persons = slices.Clone(persons)
	s.personsMu.Unlock()
}

// ReloadOn re-reads the configuration each time trigger fires, until ctx
// ends, and swaps in the new feed list. Other settings need a restart. A
// failed load keeps the current persons.
func (s *Service) ReloadOn(ctx context.Context, trigger <-chan os.Signal, load func() (*config.Config, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			cfg, err := load()
			if err != nil {
				appLog.Error("config reload failed, keeping current feeds", err)
				continue
			}
			s.SetPersons(cfg.People())
			appLog.Info("config reloaded", "persons", len(cfg.Persons))
		}
	}
}

// Location is the home timezone.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) stillRelevant(p model.Person) bool {
	s.personsMu.RLock()
	defer s.personsMu.RUnlock()
	for _, cur := range s.persons {
		if cur.ID == p.ID {
			return cur.URL == p.URL
		}
	}
	return false
}
