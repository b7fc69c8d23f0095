// Package metrics exposes Prometheus collectors for table synchronization.
//
// A nil *Metrics is valid and records nothing, so components take metrics as
// an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tablesync"

// Update results.
const (
	ResultCommitted = "committed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	updates         *prometheus.CounterVec
	updateDuration  *prometheus.HistogramVec
	rowsCommitted   *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	upstream        *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Table synchronizations by result.",
			},
			[]string{"group", "result"},
		),
		updateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "update_duration_seconds",
				Help:      "Fetch, validate and commit latency of one table.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms ~ 20s
			},
			[]string{"group"},
		),
		rowsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_committed_total",
				Help:      "Rows written by committed updates.",
			},
			[]string{"group", "mode"},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Events raised by committed updates.",
			},
			[]string{"kind"},
		),
		upstream: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream HTTP requests by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuitbreaker_state",
				Help:      "Upstream circuit breaker state (1 for the current state).",
			},
			[]string{"breaker", "state"}, // state: closed/open/half-open
		),
	}

	for _, c := range []prometheus.Collector{
		m.updates, m.updateDuration, m.rowsCommitted, m.eventsPublished, m.upstream, m.breakerState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveUpdate records one synchronization of a table in group.
func (m *Metrics) ObserveUpdate(group, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(group, result).Inc()
	if result != ResultSkipped {
		m.updateDuration.WithLabelValues(group).Observe(d.Seconds())
	}
}

// RowsCommitted records rows written in mode ("replace" or "append").
func (m *Metrics) RowsCommitted(group, mode string, n int) {
	if m == nil {
		return
	}
	m.rowsCommitted.WithLabelValues(group, mode).Add(float64(n))
}

// EventPublished records one raised event.
func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

// UpstreamRequest records one upstream call.
func (m *Metrics) UpstreamRequest(endpoint, result string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(endpoint, result).Inc()
}

// BreakerState marks state as the current state of breaker.
func (m *Metrics) BreakerState(breaker, from, to string) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(breaker, from).Set(0)
	m.breakerState.WithLabelValues(breaker, to).Set(1)
}
