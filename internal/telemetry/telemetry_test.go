package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/domain"
)

func TestMetrics_ObserveOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOutcome(domain.ProbeOutcome{Target: "api", OK: true, LatencyMS: 120})
	m.ObserveOutcome(domain.ProbeOutcome{Target: "api", Kind: domain.KindTimeout, LatencyMS: 2000})
	m.ObserveOutcome(domain.ProbeOutcome{Target: "api", Kind: domain.KindCircuitOpen})

	require.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("api", "up")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("api", "timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("api", "circuit_open")))
	require.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestMetrics_BreakerStateAndForget(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetBreakerState("api", breaker.StateOpen)
	require.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("api")))

	m.Forget("api")
	require.Zero(t, testutil.CollectAndCount(m.breakerState))
}

func TestMetrics_ScanDurationExposition(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveScan(1500)
	require.Equal(t, 1, testutil.CollectAndCount(m.scanDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOutcome(domain.ProbeOutcome{Target: "x"})
	m.SetBreakerState("x", breaker.StateClosed)
	m.ObserveScan(1)
	m.Forget("x")
}

func TestResult(t *testing.T) {
	require.Equal(t, "down", Result(domain.ProbeOutcome{}))
	require.Equal(t, "http_status", Result(domain.ProbeOutcome{Kind: domain.KindHTTPStatus}))
}
