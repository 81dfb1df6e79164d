// Package telemetry holds the Prometheus collectors shared by the cache,
// the session registry and the HTTP layer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "svgfrag"

// Fetch outcomes recorded by the fetch endpoint.
const (
	FetchServed     = "served"
	FetchNotFound   = "not_found"
	FetchBadRequest = "bad_request"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, so components can be used without a registry.
type Metrics struct {
	Freezes        prometheus.Counter
	FreezeFailures prometheus.Counter
	Compactions    prometheus.Counter
	Evictions      prometheus.Counter
	SessionsOpened prometheus.Counter
	Fetches        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Freezes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragcache",
			Name:      "freezes_total",
			Help:      "Fragments serialized and stored in a per-document cache.",
		}),
		FreezeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragcache",
			Name:      "freeze_failures_total",
			Help:      "Freezes that failed while extracting or serializing a fragment.",
		}),
		Compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragcache",
			Name:      "compactions_total",
			Help:      "Compaction sweeps run by per-document caches.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragcache",
			Name:      "evictions_total",
			Help:      "Entries dropped by compaction because their node is gone.",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sessions_registered_total",
			Help:      "Sessions that received a token.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "fragment_fetches_total",
			Help:      "Fragment fetch requests by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Freezes, m.FreezeFailures, m.Compactions, m.Evictions, m.SessionsOpened, m.Fetches)
	}
	return m
}

// RegisterSessionGauge exposes the live registry size through fn.
func RegisterSessionGauge(reg prometheus.Registerer, fn func() float64) {
	if reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "sessions_live",
		Help:      "Registry entries whose session is still reachable.",
	}, fn))
}

func (m *Metrics) Frozen() {
	if m != nil {
		m.Freezes.Inc()
	}
}

func (m *Metrics) FreezeFailed() {
	if m != nil {
		m.FreezeFailures.Inc()
	}
}

func (m *Metrics) Compacted(evicted int) {
	if m == nil {
		return
	}
	m.Compactions.Inc()
	m.Evictions.Add(float64(evicted))
}

func (m *Metrics) SessionRegistered() {
	if m != nil {
		m.SessionsOpened.Inc()
	}
}

func (m *Metrics) Fetched(outcome string) {
	if m != nil {
		m.Fetches.WithLabelValues(outcome).Inc()
	}
}
