package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry with the refresh pipeline collectors. It
// satisfies ics.CacheObserver and schedule.RunObserver.
type Metrics struct {
	registry    *prometheus.Registry
	handler     http.Handler
	feedResults *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec
	runDuration prometheus.Histogram
	events      prometheus.Gauge
	lastRefresh prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	feedResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "famcal_feed_results_total",
		Help: "Feed fetch and parse outcomes by person, stage and result",
	}, []string{"person", "stage", "result"})

	cacheLookup := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "famcal_parse_cache_lookups_total",
		Help: "Parse cache lookups by person and result",
	}, []string{"person", "result"})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "famcal_refresh_duration_seconds",
		Help:    "Duration of a full schedule refresh",
		Buckets: prometheus.DefBuckets,
	})

	events := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "famcal_events",
		Help: "Deduplicated events in the latest refresh",
	})

	lastRefresh := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "famcal_last_refresh_timestamp_seconds",
		Help: "Unix time of the latest completed refresh",
	})

	registry.MustRegister(feedResults, cacheLookup, runDuration, events, lastRefresh)

	return &Metrics{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		feedResults: feedResults,
		cacheLookup: cacheLookup,
		runDuration: runDuration,
		events:      events,
		lastRefresh: lastRefresh,
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler { return m.handler }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) CacheHit(feedID string)  { m.cacheLookup.WithLabelValues(feedID, "hit").Inc() }
func (m *Metrics) CacheMiss(feedID string) { m.cacheLookup.WithLabelValues(feedID, "miss").Inc() }

func (m *Metrics) FeedDone(personID, stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.feedResults.WithLabelValues(personID, stage, result).Inc()
}

func (m *Metrics) RunDone(d time.Duration, events int) {
	m.runDuration.Observe(d.Seconds())
	m.events.Set(float64(events))
	m.lastRefresh.SetToCurrentTime()
}
