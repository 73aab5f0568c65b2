// Package metrics holds the Prometheus collectors for feed generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	feedsGenerated *prometheus.CounterVec
	eventsEmitted  *prometheus.CounterVec
	eventsSkipped  *prometheus.CounterVec
	prayerLookups  *prometheus.CounterVec
	feedDuration   *prometheus.HistogramVec
	publishLast    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.feedsGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "halaqas",
		Name:      "feeds_generated_total",
		Help:      "Calendar feeds generated, by kind",
	}, []string{"kind"})
	m.eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "halaqas",
		Name:      "feed_events_emitted_total",
		Help:      "VEVENTs written into feeds, by kind",
	}, []string{"kind"})
	m.eventsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "halaqas",
		Name:      "feed_events_skipped_total",
		Help:      "Events left out of a feed, by reason",
	}, []string{"reason"})
	m.prayerLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "halaqas",
		Name:      "prayer_lookups_total",
		Help:      "Prayer time lookups against the configured source, by result",
	}, []string{"result"})
	m.feedDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "halaqas",
		Name:      "feed_generation_seconds",
		Help:      "Time spent generating a feed",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"kind"})
	m.publishLast = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "halaqas",
		Name:      "publish_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful feed export",
	})

	m.registry.MustRegister(
		m.feedsGenerated, m.eventsEmitted, m.eventsSkipped,
		m.prayerLookups, m.feedDuration, m.publishLast,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// FeedGenerated records one finished feed.
func (m *Metrics) FeedGenerated(kind string, emitted int, took time.Duration) {
	if m == nil {
		return
	}
	m.feedsGenerated.WithLabelValues(kind).Inc()
	m.eventsEmitted.WithLabelValues(kind).Add(float64(emitted))
	m.feedDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) EventSkipped(reason string) {
	if m == nil {
		return
	}
	m.eventsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) PrayerLookup(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.prayerLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Published(at time.Time) {
	if m == nil {
		return
	}
	m.publishLast.Set(float64(at.Unix()))
}
