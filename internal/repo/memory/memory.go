package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamed0406/heartbeat/internal/domain"
	"github.com/hamed0406/heartbeat/internal/repo"
)

// DefaultKeep bounds how many outcomes are kept per target.
const DefaultKeep = 1000

// Store is the process-local fallback used when no database is configured.
// It implements every repo port.
type Store struct {
	mu       sync.RWMutex
	keep     int
	order    []string
	targets  map[string]domain.Target
	outcomes map[string][]domain.ProbeOutcome
	alerts   map[string]repo.AlertRecord
}

func New() *Store {
	return &Store{
		keep:     DefaultKeep,
		targets:  make(map[string]domain.Target),
		outcomes: make(map[string][]domain.ProbeOutcome),
		alerts:   make(map[string]repo.AlertRecord),
	}
}

// ---- TargetStore ----

func (m *Store) Upsert(ctx context.Context, t domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(t.Name)
	if _, ok := m.targets[key]; !ok {
		m.order = append(m.order, key)
	}
	m.targets[key] = t
	return nil
}

func (m *Store) Targets(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.targets[k])
	}
	return out, nil
}

// ---- ResultStore ----

func (m *Store) Append(ctx context.Context, o domain.ProbeOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.outcomes[o.Target], o)
	if len(list) > m.keep {
		list = list[len(list)-m.keep:]
	}
	m.outcomes[o.Target] = list
	return nil
}

func (m *Store) Recent(ctx context.Context, target string, limit int) ([]domain.ProbeOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.outcomes[target]
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.ProbeOutcome, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *Store) Latest(ctx context.Context) ([]domain.ProbeOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ProbeOutcome, 0, len(m.outcomes))
	for _, list := range m.outcomes {
		if len(list) > 0 {
			out = append(out, list[len(list)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

// ---- AlertStore ----

func (m *Store) Get(ctx context.Context, target string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[target]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) Set(ctx context.Context, target string, lastState bool, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := repo.AlertRecord{Target: target, LastState: lastState}
	if !sentAt.IsZero() {
		ts := sentAt
		r.LastSentAt = &ts
	}
	m.alerts[target] = r
	return nil
}
