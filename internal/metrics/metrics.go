// Package metrics exposes cache, fetch and session metrics in Prometheus
// format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventscope"

// Fetch outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeNetwork   = "network"
	OutcomeMalformed = "malformed"
	OutcomeDiscarded = "discarded"
)

// Metrics implements cache.Observer and the provider's recorder.
type Metrics struct {
	cacheLookups   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	fetchTotal     *prometheus.CounterVec
	fetchDur       prometheus.Summary
	sessionState   *prometheus.GaugeVec
	lastReadyTS    prometheus.Gauge
	toggles        *prometheus.CounterVec
	sessions       prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Catalog cache reads by result and miss reason",
		}, []string{"result", "reason"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Catalog cache entries removed on read",
		}, []string{"reason"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Catalog fetches by outcome",
		}, []string{"outcome"}),
		fetchDur: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "fetch_duration_seconds",
			Help:       "Time spent fetching the catalog",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current state of the active catalog session",
		}, []string{"state"}),
		lastReadyTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_ready_timestamp_seconds",
			Help:      "Unix time the last session reached Ready",
		}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_toggles_total",
			Help:      "Category toggles by persistence result",
		}, []string{"result"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Catalog sessions started",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.cacheLookups, m.cacheEvictions, m.fetchTotal, m.fetchDur,
			m.sessionState, m.lastReadyTS, m.toggles, m.sessions,
		)
	}
	return m
}

func (m *Metrics) CacheHit() {
	m.cacheLookups.WithLabelValues("hit", "").Inc()
}

func (m *Metrics) CacheMiss(reason string) {
	m.cacheLookups.WithLabelValues("miss", reason).Inc()
}

func (m *Metrics) CacheEvicted(reason string) {
	m.cacheEvictions.WithLabelValues(reason).Inc()
}

// ObserveFetch records one fetch attempt.
func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	m.fetchTotal.WithLabelValues(outcome).Inc()
	m.fetchDur.Observe(d.Seconds())
}

// SessionStarted counts a new session.
func (m *Metrics) SessionStarted() {
	m.sessions.Inc()
}

// SetState marks state as current; every other state in all is zeroed.
func (m *Metrics) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
	if state == "ready" {
		m.lastReadyTS.SetToCurrentTime()
	}
}

// PreferenceToggled records a toggle and whether it reached storage.
func (m *Metrics) PreferenceToggled(persisted bool) {
	result := "persisted"
	if !persisted {
		result = "save_failed"
	}
	m.toggles.WithLabelValues(result).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
