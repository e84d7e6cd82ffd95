// Package health exposes the process's Prometheus metrics: a small set of
// gauges and counters tracking feed fetch outcomes and delivery jobs,
// enough to alert on a stalled scheduler or a source gone permanently dark.
package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the registered collectors. Built once at startup and
// passed to the components that observe them.
type Metrics struct {
	FetchAttempts   *prometheus.CounterVec
	FetchFailures   *prometheus.CounterVec
	CategoryOutage  *prometheus.GaugeVec
	DeliveryResults *prometheus.CounterVec
	DigestsSent     prometheus.Counter
}

// NewMetrics registers every collector against reg and returns the bundle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestbot_fetch_attempts_total",
			Help: "Feed Fetcher refresh attempts, by category.",
		}, []string{"category"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestbot_fetch_failures_total",
			Help: "Feed Fetcher refresh failures, by category.",
		}, []string{"category"}),
		CategoryOutage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "digestbot_category_outage",
			Help: "1 while a category has had two consecutive failed refresh cycles.",
		}, []string{"category"}),
		DeliveryResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestbot_delivery_results_total",
			Help: "Digest delivery attempts, by outcome.",
		}, []string{"outcome"}),
		DigestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digestbot_digests_sent_total",
			Help: "Digests successfully delivered to a subscriber.",
		}),
	}

	reg.MustRegister(m.FetchAttempts, m.FetchFailures, m.CategoryOutage, m.DeliveryResults, m.DigestsSent)
	return m
}
