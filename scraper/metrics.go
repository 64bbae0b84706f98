package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	PagesCrawledTotal prometheus.Counter
	ItemsScrapedTotal prometheus.Counter
	ItemsSkippedTotal *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for catalog pages.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pagesCrawled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_crawled_total",
			Help: "Total number of catalog pages visited.",
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of listings extracted into records.",
		},
	)
	itemsSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_skipped_total",
			Help: "Total number of catalog entries discarded by reason.",
		},
		[]string{"reason"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, pagesCrawled, itemsScraped, itemsSkipped, errorsTotal)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		PagesCrawledTotal: pagesCrawled,
		ItemsScrapedTotal: itemsScraped,
		ItemsSkippedTotal: itemsSkipped,
		ErrorsTotal:       errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages increments the pages crawled counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesCrawledTotal.Inc()
}

// AddItems adds n to the items scraped counter.
func (m *Metrics) AddItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsScrapedTotal.Add(float64(n))
}

// IncSkipped increments the skipped items counter for a reason label.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.ItemsSkippedTotal.WithLabelValues(reason).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
