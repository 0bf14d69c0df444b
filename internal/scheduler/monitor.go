package scheduler

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/domain"
	"github.com/hamed0406/heartbeat/internal/history"
	"github.com/hamed0406/heartbeat/internal/probe"
	"github.com/hamed0406/heartbeat/internal/registry"
	"github.com/hamed0406/heartbeat/internal/repo"
	"github.com/hamed0406/heartbeat/internal/telemetry"
)

const storeTimeout = 5 * time.Second

// TargetSource supplies the target set on Reload.
type TargetSource func(ctx context.Context) ([]domain.Target, error)

// FileSource reads targets from a YAML file on every call.
func FileSource(path string) TargetSource {
	return func(context.Context) ([]domain.Target, error) {
		return registry.ReadFile(path)
	}
}

// StoreSource reads targets from a TargetStore.
func StoreSource(ts repo.TargetStore) TargetSource {
	return ts.Targets
}

// Monitor ties the pipeline together: it probes the registered targets,
// records every outcome and answers status queries.
type Monitor struct {
	Logger   *zap.Logger
	Registry *registry.Registry
	Prober   *probe.Prober
	History  *history.Aggregator
	Results  repo.ResultStore   // optional
	Metrics  *telemetry.Metrics // optional
	Source   TargetSource       // optional, used by Reload
	Interval time.Duration
}

func NewMonitor(
	logger *zap.Logger,
	reg *registry.Registry,
	prober *probe.Prober,
	hist *history.Aggregator,
	results repo.ResultStore,
	metrics *telemetry.Metrics,
	interval time.Duration,
) *Monitor {
	if interval < 0 {
		interval = 0
	}
	return &Monitor{
		Logger:   logger,
		Registry: reg,
		Prober:   prober,
		History:  hist,
		Results:  results,
		Metrics:  metrics,
		Interval: interval,
	}
}

// Run starts the loop. It does an immediate pass, then runs each tick.
// Stops when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.Interval == 0 {
		// disabled
		m.Logger.Info("monitor_disabled")
		return
	}
	t := time.NewTicker(m.Interval)
	defer t.Stop()

	// immediate pass
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.Logger.Info("monitor_stopped")
			return
		case <-t.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce probes every registered target and records the outcomes.
func (m *Monitor) RunOnce(ctx context.Context) probe.Report {
	targets := m.Registry.List()
	rep := m.Prober.ProbeAll(ctx, targets, probe.Options{})
	for _, o := range rep.Outcomes {
		m.record(ctx, o)
	}
	m.Metrics.ObserveScan(rep.ElapsedMS)

	m.Logger.Info("monitor_scan_done",
		zap.String("scan_id", rep.ScanID),
		zap.Int("targets", len(targets)),
		zap.Int("up", lo.CountBy(rep.Outcomes, func(o domain.ProbeOutcome) bool { return o.OK })),
		zap.Int("skipped", lo.CountBy(rep.Outcomes, domain.ProbeOutcome.Skipped)),
		zap.Int64("elapsed_ms", rep.ElapsedMS),
	)
	return rep
}

// CheckOne probes a single registered target immediately.
func (m *Monitor) CheckOne(ctx context.Context, name string) (domain.ProbeOutcome, error) {
	t, err := m.Registry.Lookup(name)
	if err != nil {
		return domain.ProbeOutcome{}, err
	}
	o := m.Prober.ProbeOne(ctx, t)
	m.record(ctx, o)
	return o, nil
}

// record fans an outcome out to history, metrics and the result store.
// Canceled outcomes are shutdown artifacts and are not recorded.
func (m *Monitor) record(ctx context.Context, o domain.ProbeOutcome) {
	if o.Kind == domain.KindCanceled {
		return
	}
	m.History.Record(o)
	m.Metrics.ObserveOutcome(o)
	m.Metrics.SetBreakerState(o.Target, m.Prober.Breakers.State(o.Target))

	if m.Results == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := m.Results.Append(sctx, o); err != nil {
		m.Logger.Warn("monitor_append_error",
			zap.String("target", o.Target),
			zap.Error(err),
		)
	}
}

// TargetStatus is everything a presentation layer needs about one target.
type TargetStatus struct {
	Target  domain.Target        `json:"target"`
	State   string               `json:"state"`
	Latest  *domain.ProbeOutcome `json:"latest,omitempty"`
	Breaker breaker.Snapshot     `json:"breaker"`
	Metrics history.Metrics      `json:"metrics"`
}

// Targets lists the registered targets.
func (m *Monitor) Targets() []domain.Target { return m.Registry.List() }

// Status reports the named target over window.
func (m *Monitor) Status(name string, window time.Duration) (TargetStatus, error) {
	t, err := m.Registry.Lookup(name)
	if err != nil {
		return TargetStatus{}, err
	}
	return m.status(t, window), nil
}

// StatusAll reports every registered target in registry order.
func (m *Monitor) StatusAll(window time.Duration) []TargetStatus {
	return lo.Map(m.Registry.List(), func(t domain.Target, _ int) TargetStatus {
		return m.status(t, window)
	})
}

func (m *Monitor) status(t domain.Target, window time.Duration) TargetStatus {
	st := TargetStatus{
		Target:  t,
		State:   "unknown",
		Breaker: m.Prober.Breakers.Snapshot(t.Name),
		Metrics: m.History.Snapshot(t.Name, window),
	}
	if o, ok := m.History.Latest(t.Name); ok {
		st.Latest = &o
		st.State = o.Kind.Label()
	}
	return st
}

// TargetHistory returns the recorded outcomes of a registered target, newest first.
func (m *Monitor) TargetHistory(name string, limit int) ([]domain.ProbeOutcome, error) {
	t, err := m.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return m.History.History(t.Name, limit), nil
}

// Latest returns the newest outcome of every registered target that has one.
func (m *Monitor) Latest(context.Context) ([]domain.ProbeOutcome, error) {
	var out []domain.ProbeOutcome
	for _, t := range m.Registry.List() {
		if o, ok := m.History.Latest(t.Name); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// ResetBreaker closes the breaker of a registered target.
func (m *Monitor) ResetBreaker(name string) (breaker.Snapshot, error) {
	t, err := m.Registry.Lookup(name)
	if err != nil {
		return breaker.Snapshot{}, err
	}
	m.Prober.Breakers.Reset(t.Name)
	m.Logger.Info("breaker_reset", zap.String("target", t.Name))
	return m.Prober.Breakers.Snapshot(t.Name), nil
}

// OnBreakerChange is meant to be installed as breaker.Breaker.OnStateChange.
func (m *Monitor) OnBreakerChange(key string, from, to breaker.State) {
	m.Logger.Info("breaker_state_change",
		zap.String("target", key),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	m.Metrics.SetBreakerState(key, to)
}

// Warm seeds the in-memory history from the result store so that metrics
// survive a restart.
func (m *Monitor) Warm(ctx context.Context) error {
	if m.Results == nil {
		return nil
	}
	n := 0
	for _, t := range m.Registry.List() {
		recent, err := m.Results.Recent(ctx, t.Name, m.History.Cap())
		if err != nil {
			return err
		}
		for i := len(recent) - 1; i >= 0; i-- {
			m.History.Record(recent[i])
		}
		n += len(recent)
	}
	m.Logger.Info("monitor_warmed", zap.Int("outcomes", n))
	return nil
}

// Reload replaces the registered targets from Source. History of removed
// targets is dropped. A failed reload keeps the current set.
func (m *Monitor) Reload(ctx context.Context) (int, error) {
	if m.Source == nil {
		return m.Registry.Len(), nil
	}
	targets, err := m.Source(ctx)
	if err != nil {
		return 0, err
	}
	if err := m.Registry.Load(targets); err != nil {
		return 0, err
	}
	names := lo.Map(m.Registry.List(), func(t domain.Target, _ int) string { return t.Name })
	for _, gone := range m.History.Retain(names) {
		m.Metrics.Forget(gone)
	}
	m.Logger.Info("targets_reloaded", zap.Int("targets", len(names)))
	return len(names), nil
}
