// Package metrics provides the Prometheus collectors of the watcher.
// All Record methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all watcher metrics.
	Namespace = "vodwatch"
)

// Push event outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
)

// Metrics holds all Prometheus metrics of the watcher.
type Metrics struct {
	// Connection metrics
	ConnectionState  *prometheus.GaugeVec
	LifecycleEvents  *prometheus.CounterVec
	ListenerFailures *prometheus.CounterVec

	// Push event metrics
	PushEvents *prometheus.CounterVec

	// Snapshot resync metrics
	Resyncs         *prometheus.CounterVec
	ResyncDurations prometheus.Histogram

	// HTTP metrics
	HandlerPanics *prometheus.CounterVec
}

// New creates and registers all watcher metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initConnectionMetrics(factory)
	m.initPushMetrics(factory)
	m.initResyncMetrics(factory)
	m.initHTTPMetrics(factory)

	return m
}

func (m *Metrics) initConnectionMetrics(factory promauto.Factory) {
	m.ConnectionState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "1 for the current push connection state, 0 for the others",
		},
		[]string{"state"},
	)

	m.LifecycleEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "lifecycle_events_total",
			Help:      "Total number of push connection lifecycle events",
		},
		[]string{"kind"},
	)

	m.ListenerFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "listener_failures_total",
			Help:      "Total number of lifecycle listeners that returned an error or panicked",
		},
		[]string{"kind"},
	)
}

func (m *Metrics) initPushMetrics(factory promauto.Factory) {
	m.PushEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "push",
			Name:      "events_total",
			Help:      "Total number of push events received, by outcome",
		},
		[]string{"event", "outcome"},
	)
}

func (m *Metrics) initResyncMetrics(factory promauto.Factory) {
	m.Resyncs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "resync",
			Name:      "total",
			Help:      "Total number of snapshot refetches, by snapshot and result",
		},
		[]string{"snapshot", "result"},
	)

	m.ResyncDurations = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "resync",
			Name:      "duration_seconds",
			Help:      "Duration of a full snapshot resync in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)
}

func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.HandlerPanics = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "handler_panics_total",
			Help:      "Total number of recovered HTTP handler panics",
		},
		[]string{"route"},
	)
}

// SetConnectionState marks state as current and every other known state as not.
func (m *Metrics) SetConnectionState(state string, known []string) {
	if m == nil {
		return
	}
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordLifecycleEvent records one lifecycle event of the given kind.
func (m *Metrics) RecordLifecycleEvent(kind string) {
	if m == nil {
		return
	}
	m.LifecycleEvents.WithLabelValues(kind).Inc()
}

// RecordListenerFailure records a failed lifecycle listener.
func (m *Metrics) RecordListenerFailure(kind string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(kind).Inc()
}

// RecordPushEvent records a push event and what became of it.
func (m *Metrics) RecordPushEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.PushEvents.WithLabelValues(event, outcome).Inc()
}

// RecordResync records the result of refetching one snapshot.
func (m *Metrics) RecordResync(snapshot string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.Resyncs.WithLabelValues(snapshot, result).Inc()
}

// ObserveResyncDuration records how long a full resync took.
func (m *Metrics) ObserveResyncDuration(seconds float64) {
	if m == nil {
		return
	}
	m.ResyncDurations.Observe(seconds)
}

// RecordHandlerPanic records a recovered panic in the handler for route.
func (m *Metrics) RecordHandlerPanic(route string) {
	if m == nil {
		return
	}
	m.HandlerPanics.WithLabelValues(route).Inc()
}
