package telemetry

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry records engine metrics. Collectors register on the supplied
// registry (or the default one) so the server's /metrics endpoint picks
// them up without further wiring.
type Telemetry struct {
	logger *log.Logger

	sectionsCompleted prometheus.Counter
	sectionsFailed    prometheus.Counter
	sectionDuration   prometheus.Histogram
	tokensUsed        prometheus.Counter
	searchQueries     prometheus.Counter
	searchResults     prometheus.Counter
}

// New creates a Telemetry instance registered on reg. Passing nil
// registers on the default prometheus registry.
func New(reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		sectionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporter_sections_completed_total",
			Help: "Number of report sections written successfully.",
		}),
		sectionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporter_sections_failed_total",
			Help: "Number of report sections that failed.",
		}),
		sectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reporter_section_duration_seconds",
			Help:    "Wall time spent researching and writing one section.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		tokensUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporter_tokens_used_total",
			Help: "Model tokens consumed across all generation calls.",
		}),
		searchQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporter_search_queries_total",
			Help: "Search queries issued during research.",
		}),
		searchResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reporter_search_results_total",
			Help: "Search results gathered during research.",
		}),
	}
	for _, c := range []prometheus.Collector{
		t.sectionsCompleted, t.sectionsFailed, t.sectionDuration, t.tokensUsed, t.searchQueries, t.searchResults,
	} {
		if err := reg.Register(c); err != nil {
			t.logger.Printf("metric registration: %v", err)
		}
	}
	return t
}

// RecordSection records the outcome of one section task.
func (t *Telemetry) RecordSection(success bool, duration time.Duration, tokens int64) {
	if t == nil {
		return
	}
	if success {
		t.sectionsCompleted.Inc()
		t.sectionDuration.Observe(duration.Seconds())
	} else {
		t.sectionsFailed.Inc()
	}
	if tokens > 0 {
		t.tokensUsed.Add(float64(tokens))
	}
}

// RecordSearch records one executed search query and its result count.
func (t *Telemetry) RecordSearch(results int) {
	if t == nil {
		return
	}
	t.searchQueries.Inc()
	t.searchResults.Add(float64(results))
}
