// Package breaker implements a per-key circuit breaker. Each key owns an
// independent state cell guarded by its own mutex, so calls for different
// keys never contend.
package breaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// State of a single breaker cell.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Snapshot is a copy of one key's state.
type Snapshot struct {
	Key                 string     `json:"key"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	HalfOpenAttempts    int        `json:"half_open_attempts"`
}

// Breaker tracks one state cell per key. Transitions out of Open are
// evaluated lazily on access; there is no background timer.
type Breaker struct {
	cfg   Config
	cells *xsync.Map[string, *cell]
	now   func() time.Time

	// OnStateChange, when set, is called after a transition with the cell
	// lock released.
	OnStateChange func(key string, from, to State)
}

type cell struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	halfOpenAttempts    int
}

type Option func(*Breaker)

// WithClock injects a time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:   cfg.withDefaults(),
		cells: xsync.NewMap[string, *cell](),
		now:   time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Breaker) Config() Config { return b.cfg }

func (b *Breaker) cell(key string) *cell {
	if c, ok := b.cells.Load(key); ok {
		return c
	}
	c, _ := b.cells.LoadOrStore(key, &cell{})
	return c
}

type transition struct {
	from, to State
}

// Execute runs fn unless the breaker for key denies the call, in which case
// it returns an *OpenError without invoking fn. fn's error is recorded and
// returned unchanged. Cancellation of ctx itself is not held against the key.
func (b *Breaker) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	c := b.cell(key)

	c.mu.Lock()
	admitted, tr, openErr := b.admit(c, key)
	c.mu.Unlock()
	b.notify(key, tr)
	if !admitted {
		return openErr
	}

	err := fn(ctx)

	c.mu.Lock()
	switch {
	case err == nil:
		tr = b.onSuccess(c)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		tr = b.onAbandon(c)
	default:
		tr = b.onFailure(c)
	}
	c.mu.Unlock()
	b.notify(key, tr)
	return err
}

// admit must be called with c.mu held.
func (b *Breaker) admit(c *cell, key string) (bool, transition, error) {
	now := b.now()
	tr := transition{from: c.state, to: c.state}

	if c.state == StateOpen {
		if now.Sub(c.lastFailureAt) < b.cfg.ResetTimeout {
			return false, tr, &OpenError{Key: key, State: StateOpen, RetryAt: c.lastFailureAt.Add(b.cfg.ResetTimeout)}
		}
		c.state = StateHalfOpen
		tr.to = StateHalfOpen
	}

	if c.state == StateHalfOpen {
		if c.halfOpenAttempts >= b.cfg.MaxRetries {
			c.state = StateOpen
			c.lastFailureAt = now
			c.halfOpenAttempts = 0
			tr.to = StateOpen
			return false, tr, &OpenError{Key: key, State: StateOpen, RetryAt: now.Add(b.cfg.ResetTimeout)}
		}
		wait := b.cfg.backoff(c.halfOpenAttempts)
		if now.Sub(c.lastFailureAt) < wait {
			return false, tr, &OpenError{Key: key, State: StateHalfOpen, RetryAt: c.lastFailureAt.Add(wait)}
		}
		c.halfOpenAttempts++
	}
	return true, tr, nil
}

func (b *Breaker) onSuccess(c *cell) transition {
	tr := transition{from: c.state, to: StateClosed}
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.halfOpenAttempts = 0
	return tr
}

func (b *Breaker) onFailure(c *cell) transition {
	tr := transition{from: c.state, to: c.state}
	c.consecutiveFailures++
	c.lastFailureAt = b.now()
	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
	case StateClosed:
		if c.consecutiveFailures >= b.cfg.FailureThreshold {
			c.state = StateOpen
		}
	}
	tr.to = c.state
	return tr
}

// onAbandon gives back a half-open trial slot when the caller went away.
func (b *Breaker) onAbandon(c *cell) transition {
	if c.state == StateHalfOpen && c.halfOpenAttempts > 0 {
		c.halfOpenAttempts--
	}
	return transition{from: c.state, to: c.state}
}

func (b *Breaker) notify(key string, tr transition) {
	if tr.from != tr.to && b.OnStateChange != nil {
		b.OnStateChange(key, tr.from, tr.to)
	}
}

// State returns the current state of key. Unknown keys are Closed. Like
// Execute, it applies a pending Open -> HalfOpen transition.
func (b *Breaker) State(key string) State {
	return b.Snapshot(key).state()
}

// Snapshot copies the state of key.
func (b *Breaker) Snapshot(key string) Snapshot {
	c, ok := b.cells.Load(key)
	if !ok {
		return Snapshot{Key: key, State: StateClosed.String()}
	}
	c.mu.Lock()
	tr := transition{from: c.state, to: c.state}
	if c.state == StateOpen && b.now().Sub(c.lastFailureAt) >= b.cfg.ResetTimeout {
		c.state = StateHalfOpen
		tr.to = StateHalfOpen
	}
	s := Snapshot{
		Key:                 key,
		State:               c.state.String(),
		ConsecutiveFailures: c.consecutiveFailures,
		HalfOpenAttempts:    c.halfOpenAttempts,
	}
	if !c.lastFailureAt.IsZero() {
		t := c.lastFailureAt
		s.LastFailureAt = &t
	}
	c.mu.Unlock()
	b.notify(key, tr)
	return s
}

func (s Snapshot) state() State {
	switch s.State {
	case StateOpen.String():
		return StateOpen
	case StateHalfOpen.String():
		return StateHalfOpen
	}
	return StateClosed
}

// Snapshots returns every known key sorted by name.
func (b *Breaker) Snapshots() []Snapshot {
	var keys []string
	b.cells.Range(func(k string, _ *cell) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.Snapshot(k))
	}
	return out
}

// Reset forces key back to Closed with cleared counters. It is the operator
// escape hatch; nothing in the probe path calls it.
func (b *Breaker) Reset(key string) {
	c, ok := b.cells.Load(key)
	if !ok {
		return
	}
	c.mu.Lock()
	tr := transition{from: c.state, to: StateClosed}
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.halfOpenAttempts = 0
	c.lastFailureAt = time.Time{}
	c.mu.Unlock()
	b.notify(key, tr)
}
