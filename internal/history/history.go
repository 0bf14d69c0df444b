// Package history keeps a bounded rolling record of probe outcomes per target
// and derives uptime, latency and incident metrics from it on every read.
package history

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/samber/lo"

	"github.com/hamed0406/heartbeat/internal/domain"
)

const DefaultCap = 100

// Aggregator holds one ring buffer per target name. Targets are independent:
// recording for one never blocks readers of another.
type Aggregator struct {
	cap   int
	now   func() time.Time
	cells *xsync.Map[string, *ring]
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New returns an aggregator retaining at most capacity outcomes per target.
// capacity < 1 means DefaultCap.
func New(capacity int, opts ...Option) *Aggregator {
	if capacity < 1 {
		capacity = DefaultCap
	}
	a := &Aggregator{
		cap:   capacity,
		now:   time.Now,
		cells: xsync.NewMap[string, *ring](),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Aggregator) Cap() int { return a.cap }

func (a *Aggregator) ring(name string) *ring {
	if r, ok := a.cells.Load(name); ok {
		return r
	}
	r, _ := a.cells.LoadOrStore(name, newRing(a.cap))
	return r
}

// Record appends o to its target's history, evicting the oldest entry when
// the buffer is full.
func (a *Aggregator) Record(o domain.ProbeOutcome) {
	a.ring(o.Target).push(o)
}

// Latest returns the most recent outcome for name.
func (a *Aggregator) Latest(name string) (domain.ProbeOutcome, bool) {
	r, ok := a.cells.Load(name)
	if !ok {
		return domain.ProbeOutcome{}, false
	}
	return r.latest()
}

// History returns up to limit outcomes for name, newest first. limit <= 0
// returns everything retained.
func (a *Aggregator) History(name string, limit int) []domain.ProbeOutcome {
	r, ok := a.cells.Load(name)
	if !ok {
		return nil
	}
	return r.newestFirst(limit)
}

// Names lists every target with recorded history, sorted.
func (a *Aggregator) Names() []string {
	var names []string
	a.cells.Range(func(k string, _ *ring) bool {
		names = append(names, k)
		return true
	})
	sort.Strings(names)
	return names
}

// Retain drops the history of every target not in keep. It is used after a
// registry reload removes targets.
func (a *Aggregator) Retain(keep []string) []string {
	set := lo.SliceToMap(keep, func(n string) (string, struct{}) { return n, struct{}{} })
	var dropped []string
	for _, n := range a.Names() {
		if _, ok := set[n]; !ok {
			a.cells.Delete(n)
			dropped = append(dropped, n)
		}
	}
	return dropped
}

// Metrics is derived from a target's history; it is never stored.
type Metrics struct {
	Target         string     `json:"target"`
	Window         string     `json:"window"`
	Samples        int        `json:"samples"`
	Failures       int        `json:"failures"`
	Skipped        int        `json:"skipped"`
	UptimeRatio    float64    `json:"uptime_ratio"`
	AvgLatencyMS   float64    `json:"avg_latency_ms"`
	IncidentCount  int        `json:"incident_count"`
	IncidentRate   float64    `json:"incident_rate_per_hour"`
	LastIncidentAt *time.Time `json:"last_incident_at,omitempty"`
}

// Snapshot computes metrics over the outcomes recorded within window of now.
// window <= 0 covers the whole retained history. It does not modify state.
func (a *Aggregator) Snapshot(name string, window time.Duration) Metrics {
	m := Metrics{Target: name, Window: windowLabel(window), UptimeRatio: 1}

	var outcomes []domain.ProbeOutcome
	if r, ok := a.cells.Load(name); ok {
		outcomes = r.newestFirst(0)
	}
	if window > 0 {
		since := a.now().Add(-window)
		outcomes = lo.Filter(outcomes, func(o domain.ProbeOutcome, _ int) bool {
			return !o.Timestamp.Before(since)
		})
	}
	slices.Reverse(outcomes) // chronological

	derive(&m, outcomes, window)
	return m
}

func derive(m *Metrics, chrono []domain.ProbeOutcome, window time.Duration) {
	m.Samples = len(chrono)
	if m.Samples == 0 {
		return
	}

	var latencySum int64
	attempted := 0
	prevOK := true
	for _, o := range chrono {
		if o.Skipped() {
			m.Skipped++
		} else {
			latencySum += o.LatencyMS
			attempted++
		}
		if !o.OK {
			m.Failures++
			if prevOK {
				m.IncidentCount++
				ts := o.Timestamp
				m.LastIncidentAt = &ts
			}
		}
		prevOK = o.OK
	}

	m.UptimeRatio = float64(m.Samples-m.Failures) / float64(m.Samples)
	if attempted > 0 {
		m.AvgLatencyMS = float64(latencySum) / float64(attempted)
	}

	span := window
	if span <= 0 {
		span = chrono[len(chrono)-1].Timestamp.Sub(chrono[0].Timestamp)
	}
	if span > 0 {
		m.IncidentRate = float64(m.IncidentCount) / span.Hours()
	}
}

func windowLabel(w time.Duration) string {
	if w <= 0 {
		return "all"
	}
	return w.String()
}

type ring struct {
	mu   sync.RWMutex
	buf  []domain.ProbeOutcome
	next int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.ProbeOutcome, capacity)}
}

func (r *ring) push(o domain.ProbeOutcome) {
	r.mu.Lock()
	r.buf[r.next] = o
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.mu.Unlock()
}

func (r *ring) latest() (domain.ProbeOutcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return domain.ProbeOutcome{}, false
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)], true
}

func (r *ring) newestFirst(limit int) []domain.ProbeOutcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.ProbeOutcome, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}
