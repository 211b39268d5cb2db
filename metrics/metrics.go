// Package metrics holds the Prometheus collectors for the auth gate.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results reported by the JWKS resolver.
const (
	CacheHit       = "hit"
	CacheSharedHit = "shared_hit"
	CacheMiss      = "miss"
	CacheStale     = "stale"
	CachePinned    = "pinned"
)

// Fetch results reported by the JWKS resolver.
const (
	FetchOK    = "ok"
	FetchError = "error"
)

type Metrics struct {
	AuthRequests      *prometheus.CounterVec
	AuthDuration      prometheus.Histogram
	JWKSCache         *prometheus.CounterVec
	JWKSFetches       *prometheus.CounterVec
	JWKSFetchDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests off the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinauth",
				Name:      "auth_requests_total",
				Help:      "Authentication attempts by outcome.",
			},
			[]string{"outcome"},
		),
		AuthDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spinauth",
			Name:      "auth_duration_seconds",
			Help:      "Time spent authenticating a request, including key resolution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		JWKSCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinauth",
				Name:      "jwks_cache_total",
				Help:      "JWKS cache lookups by result.",
			},
			[]string{"result"},
		),
		JWKSFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinauth",
				Name:      "jwks_fetch_total",
				Help:      "Upstream JWKS fetches by result.",
			},
			[]string{"result"},
		),
		JWKSFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spinauth",
			Name:      "jwks_fetch_duration_seconds",
			Help:      "Latency of upstream JWKS fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.AuthRequests, m.AuthDuration, m.JWKSCache, m.JWKSFetches, m.JWKSFetchDuration)
	}
	return m
}

func (m *Metrics) ObserveAuth(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AuthRequests.WithLabelValues(outcome).Inc()
	m.AuthDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.JWKSCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.JWKSFetches.WithLabelValues(result).Inc()
	m.JWKSFetchDuration.Observe(d.Seconds())
}
