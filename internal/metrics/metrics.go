// Package metrics defines the Prometheus collectors of the ledger server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Metrics holds every collector. Construct with New.
type Metrics struct {
	// SessionsActive is the number of sessions currently in the registry.
	SessionsActive prometheus.Gauge

	// SessionReleases counts session releases by result ("ok" or "error").
	SessionReleases *prometheus.CounterVec

	// ReleaseSeconds is the time from dispatching a release to its completion.
	ReleaseSeconds prometheus.Histogram

	// Requests counts HTTP requests by method and status code.
	Requests *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live database sessions.",
		}),
		SessionReleases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_releases_total",
			Help:      "Database session releases by result.",
		}, []string{"result"}),
		ReleaseSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "release_wait_seconds",
			Help:      "Time spent releasing a request session, queueing included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		gatherer: reg,
	}
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
