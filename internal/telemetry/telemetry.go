// Package telemetry exposes probe and breaker state as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/domain"
)

type Metrics struct {
	probes       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
	scanDuration prometheus.Histogram
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "heartbeat_probes_total",
			Help: "Probe outcomes by target and result.",
		}, []string{"target", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heartbeat_probe_latency_seconds",
			Help:    "Latency of attempted probes.",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"target"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heartbeat_breaker_state",
			Help: "Circuit breaker state per target (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "heartbeat_scan_duration_seconds",
			Help:    "Wall time of a full probe pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Result is the label value for an outcome.
func Result(o domain.ProbeOutcome) string {
	if o.OK {
		return "up"
	}
	if o.Kind == domain.KindNone {
		return "down"
	}
	return string(o.Kind)
}

func (m *Metrics) ObserveOutcome(o domain.ProbeOutcome) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(o.Target, Result(o)).Inc()
	if !o.Skipped() {
		m.latency.WithLabelValues(o.Target).Observe(float64(o.LatencyMS) / 1000)
	}
}

func (m *Metrics) SetBreakerState(target string, s breaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(target).Set(float64(s))
}

func (m *Metrics) ObserveScan(elapsedMS int64) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(float64(elapsedMS) / 1000)
}

// Forget drops the series of a target that is no longer registered.
func (m *Metrics) Forget(target string) {
	if m == nil {
		return
	}
	m.probes.DeletePartialMatch(prometheus.Labels{"target": target})
	m.latency.DeleteLabelValues(target)
	m.breakerState.DeleteLabelValues(target)
}
