// Package metrics exposes Prometheus instrumentation for the scraping
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ScrapesTotal   *prometheus.CounterVec
	ScrapeDuration prometheus.Histogram
	JobsActive     prometheus.Gauge
	JobsTotal      *prometheus.CounterVec
}

// New builds the metric set and registers it with reg. Passing
// prometheus.DefaultRegisterer wires the standard /metrics endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "price_tracker",
			Name:      "scrapes_total",
			Help:      "Item extraction attempts by outcome.",
		}, []string{"outcome"}),
		ScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "price_tracker",
			Name:      "scrape_duration_seconds",
			Help:      "Wall time per item extraction, including fetch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "price_tracker",
			Name:      "jobs_active",
			Help:      "Batch jobs currently running.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "price_tracker",
			Name:      "jobs_total",
			Help:      "Batch jobs finished by terminal state.",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(m.ScrapesTotal, m.ScrapeDuration, m.JobsActive, m.JobsTotal)
	}

	return m
}
