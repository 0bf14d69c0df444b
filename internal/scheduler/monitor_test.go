package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/domain"
	"github.com/hamed0406/heartbeat/internal/history"
	"github.com/hamed0406/heartbeat/internal/probe"
	"github.com/hamed0406/heartbeat/internal/registry"
	"github.com/hamed0406/heartbeat/internal/repo/memory"
	"github.com/hamed0406/heartbeat/internal/telemetry"
)

// --- fakes ---

// downSet makes every target whose name is in the set fail with a 500.
type downSet struct {
	calls atomic.Int32
	down  map[string]bool
}

func (d *downSet) Check(ctx context.Context, t domain.Target) probe.CheckResult {
	d.calls.Add(1)
	if d.down[t.Name] {
		return probe.CheckResult{StatusCode: 500, Kind: domain.KindHTTPStatus, Message: "500 Internal Server Error"}
	}
	return probe.CheckResult{Success: true, StatusCode: 200, LatencyMS: 1, Message: "200 OK"}
}

type fixture struct {
	mon     *Monitor
	store   *memory.Store
	checker *downSet
	br      *breaker.Breaker
}

func newFixture(t *testing.T, targets ...domain.Target) *fixture {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Load(targets))
	chk := &downSet{down: map[string]bool{}}
	br := breaker.New(breaker.DefaultConfig())
	pr := probe.NewProber(zap.NewNop(), chk, br, probe.Options{Concurrency: 2, Timeout: time.Second})
	store := memory.New()
	mon := NewMonitor(zap.NewNop(), reg, pr, history.New(10), store, telemetry.New(prometheus.NewRegistry()), 0)
	br.OnStateChange = mon.OnBreakerChange
	return &fixture{mon: mon, store: store, checker: chk, br: br}
}

var (
	tgtA = domain.Target{Name: "A", URL: "https://a.example.com"}
	tgtB = domain.Target{Name: "B", URL: "https://b.example.com"}
)

// --- tests ---

func TestMonitor_RunOnceRecordsEverywhere(t *testing.T) {
	f := newFixture(t, tgtA, tgtB)
	f.checker.down["B"] = true

	rep := f.mon.RunOnce(context.Background())
	require.Len(t, rep.Outcomes, 2)

	byName := rep.ByTarget()
	require.True(t, byName["A"].OK)
	require.False(t, byName["B"].OK)
	require.Equal(t, 500, byName["B"].HTTPStatus)

	stored, err := f.store.Recent(context.Background(), "B", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	all := f.mon.StatusAll(24 * time.Hour)
	require.Len(t, all, 2)
	require.Equal(t, "A", all[0].Target.Name)
	require.Equal(t, 1.0, all[0].Metrics.UptimeRatio)
	require.Equal(t, "up", all[0].State)
	require.Equal(t, 0.0, all[1].Metrics.UptimeRatio)
	require.Equal(t, 1, all[1].Metrics.IncidentCount)
	require.Equal(t, "closed", all[1].Breaker.State)
}

func TestMonitor_BreakerOpensAndStatusShowsSkipped(t *testing.T) {
	f := newFixture(t, tgtB)
	f.checker.down["B"] = true

	for i := 0; i < 6; i++ {
		f.mon.RunOnce(context.Background())
	}
	require.Equal(t, int32(5), f.checker.calls.Load())

	st, err := f.mon.Status("b", 0)
	require.NoError(t, err)
	require.Equal(t, "open", st.Breaker.State)
	require.NotNil(t, st.Latest)
	require.True(t, st.Latest.Skipped())
	require.Equal(t, domain.KindCircuitOpen.Label(), st.State)
	require.Equal(t, 6, st.Metrics.Samples)
	require.Equal(t, 1, st.Metrics.Skipped)

	snap, err := f.mon.ResetBreaker("B")
	require.NoError(t, err)
	require.Equal(t, "closed", snap.State)

	f.checker.down["B"] = false
	o, err := f.mon.CheckOne(context.Background(), "B")
	require.NoError(t, err)
	require.True(t, o.OK)
}

func TestMonitor_UnknownTarget(t *testing.T) {
	f := newFixture(t, tgtA)
	_, err := f.mon.CheckOne(context.Background(), "nope")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = f.mon.Status("nope", time.Hour)
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = f.mon.TargetHistory("nope", 5)
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = f.mon.ResetBreaker("nope")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestMonitor_CanceledOutcomesAreNotRecorded(t *testing.T) {
	f := newFixture(t, tgtA)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := f.mon.RunOnce(ctx)
	require.Len(t, rep.Outcomes, 1)
	require.Equal(t, domain.KindCanceled, rep.Outcomes[0].Kind)

	h, err := f.mon.TargetHistory("A", 0)
	require.NoError(t, err)
	require.Empty(t, h)
}

func TestMonitor_Run_ImmediatePass(t *testing.T) {
	f := newFixture(t, tgtA)
	f.mon.Interval = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.mon.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for f.checker.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	latest, err := f.mon.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.True(t, latest[0].OK)
}

func TestMonitor_Run_DisabledReturns(t *testing.T) {
	f := newFixture(t, tgtA)
	f.mon.Run(context.Background()) // Interval 0
	require.Zero(t, f.checker.calls.Load())
}

func TestMonitor_WarmLoadsPersistedHistory(t *testing.T) {
	f := newFixture(t, tgtA)
	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Append(context.Background(), domain.ProbeOutcome{
			Target: "A", Timestamp: base.Add(time.Duration(i) * time.Minute), OK: i != 1,
		}))
	}

	require.NoError(t, f.mon.Warm(context.Background()))
	h, err := f.mon.TargetHistory("A", 0)
	require.NoError(t, err)
	require.Len(t, h, 3)
	require.True(t, h[0].Timestamp.After(h[2].Timestamp), "history must be newest first")
	require.Equal(t, 1, f.mon.History.Snapshot("A", 0).IncidentCount)
}

func TestMonitor_ReloadFromFile(t *testing.T) {
	f := newFixture(t, tgtA, tgtB)
	f.mon.RunOnce(context.Background())

	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - name: A\n    url: https://a.example.com\n  - name: C\n    url: https://c.example.com\n"), 0o600))
	f.mon.Source = FileSource(path)

	n, err := f.mon.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"A"}, f.mon.History.Names())

	// broken file keeps the current set
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - name: A\n"), 0o600))
	_, err = f.mon.Reload(context.Background())
	var cerr *registry.ConfigError
	require.True(t, errors.As(err, &cerr))
	_, err = f.mon.Status("C", 0)
	require.NoError(t, err)
}

func TestMonitor_ReloadFromStore(t *testing.T) {
	f := newFixture(t, tgtA)
	require.NoError(t, f.store.Upsert(context.Background(), tgtB))
	f.mon.Source = StoreSource(f.store)

	n, err := f.mon.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = f.mon.Status("A", 0)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestMonitor_FeedsAlerter(t *testing.T) {
	f := newFixture(t, tgtA, tgtB)
	f.checker.down["A"] = true
	f.mon.RunOnce(context.Background())

	nt := &memNotifier{}
	al := NewAlerter(zap.NewNop(), f.mon, f.store, nt, f.mon.Registry, AlerterConfig{AlertOnRecovery: true})
	require.NoError(t, al.scanOnce(context.Background()))
	require.Equal(t, 1, nt.n())
	require.Contains(t, nt.texts[0], "URL: https://a.example.com")
}
