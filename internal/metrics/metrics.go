// Package metrics holds the prometheus collectors for a crawl run. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	RetriesTotal    prometheus.Counter
	CacheTotal      *prometheus.CounterVec
	ImagesTotal     *prometheus.CounterVec
	ArticlesTotal   prometheus.Counter
	ListingsFetched prometheus.Counter
}

// New registers the collectors on reg. A nil reg gets a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		FetchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogcrawl_fetches_total",
				Help: "HTTP requests issued, by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blogcrawl_fetch_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		),
		RetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "blogcrawl_fetch_retries_total",
			Help: "Fetch attempts beyond the first.",
		}),
		CacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogcrawl_cache_total",
				Help: "Content cache lookups, by result (hit, miss, migrated, corrupt).",
			},
			[]string{"result"},
		),
		ImagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogcrawl_images_total",
				Help: "Image references handled, by outcome.",
			},
			[]string{"outcome"},
		),
		ArticlesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "blogcrawl_articles_total",
			Help: "Articles appended to the result.",
		}),
		ListingsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "blogcrawl_listings_total",
			Help: "Listing pages processed.",
		}),
	}
}

func (m *Metrics) Fetch(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(method, outcome).Inc()
	m.FetchDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.CacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Image(outcome string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Article() {
	if m == nil {
		return
	}
	m.ArticlesTotal.Inc()
}

func (m *Metrics) Listing() {
	if m == nil {
		return
	}
	m.ListingsFetched.Inc()
}
