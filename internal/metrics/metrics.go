package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Event names for the events counter.
const (
	AuthFailure      = "auth_failure"
	RateLimited      = "rate_limited"
	RateLimitEvicted = "rate_limit_evicted"
	WatchRejected    = "watch_rejected"
	WatchDropped     = "watch_dropped"
	StoreConflict    = "store_conflict"
	BadRequest       = "bad_request"
	HubNotReady      = "hub_not_ready"
)

// Operation results other than hub wire codes.
const ResultOK = "ok"

// Metrics holds the hub's Prometheus collectors on a private registry.
//
// All methods are safe on a nil receiver so components can run without
// metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	events     *prometheus.CounterVec
	watchers   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aero",
			Subsystem: "signal_hub",
			Name:      "operations_total",
			Help:      "Session operations by operation and result code.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aero",
			Subsystem: "signal_hub",
			Name:      "operation_duration_seconds",
			Help:      "Latency of session operations including store round trips.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aero",
			Subsystem: "signal_hub",
			Name:      "events_total",
			Help:      "Internal event counters.",
		}, []string{"event"}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aero",
			Subsystem: "signal_hub",
			Name:      "watchers",
			Help:      "Open watch subscriptions.",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.events,
		m.watchers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveOperation(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = ResultOK
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) Inc(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) WatcherAdded() {
	if m == nil {
		return
	}
	m.watchers.Inc()
}

func (m *Metrics) WatcherRemoved() {
	if m == nil {
		return
	}
	m.watchers.Dec()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
