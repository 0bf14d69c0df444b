package probe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/domain"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 10 * time.Second
)

// Options tunes one ProbeAll call. Zero fields fall back to the prober's
// defaults.
type Options struct {
	Concurrency int
	Timeout     time.Duration
}

// Report is the result of a ProbeAll call. Outcomes are not guaranteed to be
// in submission order; key them by Target.
type Report struct {
	ScanID    string                `json:"scan_id"`
	Outcomes  []domain.ProbeOutcome `json:"outcomes"`
	ElapsedMS int64                 `json:"elapsed_ms"`
}

// ByTarget indexes the outcomes by target name.
func (r Report) ByTarget() map[string]domain.ProbeOutcome {
	m := make(map[string]domain.ProbeOutcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.Target] = o
	}
	return m
}

// Prober runs checks through a per-target circuit breaker.
type Prober struct {
	Logger   *zap.Logger
	Checker  Checker
	Breakers *breaker.Breaker
	Defaults Options
	Now      func() time.Time
}

func NewProber(logger *zap.Logger, checker Checker, breakers *breaker.Breaker, defaults Options) *Prober {
	if defaults.Concurrency < 1 {
		defaults.Concurrency = DefaultConcurrency
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}
	return &Prober{
		Logger:   logger,
		Checker:  checker,
		Breakers: breakers,
		Defaults: defaults,
		Now:      time.Now,
	}
}

func (p *Prober) resolve(opts Options) Options {
	if opts.Concurrency < 1 {
		opts.Concurrency = p.Defaults.Concurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = p.Defaults.Timeout
	}
	return opts
}

// ProbeAll checks every target with at most opts.Concurrency probes in flight
// and returns exactly one outcome per target. Individual failures are
// reported as outcomes; cancelling ctx turns pending probes into canceled
// outcomes.
func (p *Prober) ProbeAll(ctx context.Context, targets []domain.Target, opts Options) Report {
	opts = p.resolve(opts)
	start := time.Now()
	scanID := uuid.NewString()

	outcomes := make([]domain.ProbeOutcome, len(targets))
	jobs := make(chan int)

	workers := opts.Concurrency
	if workers > len(targets) {
		workers = len(targets)
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				outcomes[i] = p.probe(ctx, targets[i], opts.Timeout)
			}
			return nil
		})
	}
	for i := range targets {
		jobs <- i
	}
	close(jobs)
	_ = g.Wait()

	rep := Report{
		ScanID:    scanID,
		Outcomes:  outcomes,
		ElapsedMS: time.Since(start).Milliseconds(),
	}
	p.Logger.Debug("probe_all_done",
		zap.String("scan_id", scanID),
		zap.Int("targets", len(targets)),
		zap.Int("concurrency", workers),
		zap.Int64("elapsed_ms", rep.ElapsedMS),
	)
	return rep
}

// ProbeOne checks a single target through the same breaker path as ProbeAll.
func (p *Prober) ProbeOne(ctx context.Context, t domain.Target) domain.ProbeOutcome {
	return p.probe(ctx, t, p.Defaults.Timeout)
}

func (p *Prober) probe(ctx context.Context, t domain.Target, timeout time.Duration) domain.ProbeOutcome {
	out := domain.ProbeOutcome{Target: t.Name, Timestamp: p.Now().UTC()}

	if err := ctx.Err(); err != nil {
		out.Kind = domain.KindCanceled
		out.Error = err.Error()
		return out
	}

	var res CheckResult
	ran := false
	start := time.Now()
	err := p.Breakers.Execute(ctx, t.Name, func(ctx context.Context) error {
		ran = true
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res = p.Checker.Check(cctx, t)
		if !res.Success && res.Kind == domain.KindCanceled && ctx.Err() != nil {
			return ctx.Err()
		}
		return res.Err()
	})

	switch {
	case !ran && breaker.IsOpen(err):
		out.Kind = domain.KindCircuitOpen
		out.Error = domain.CircuitOpenMessage
	case err == nil:
		out.OK = true
		out.HTTPStatus = res.StatusCode
		out.LatencyMS = int64(res.LatencyMS)
		out.Version = res.Version
		out.Uptime = res.Uptime
	default:
		out.HTTPStatus = res.StatusCode
		out.LatencyMS = int64(res.LatencyMS)
		if out.LatencyMS == 0 {
			out.LatencyMS = time.Since(start).Milliseconds()
		}
		out.Kind = res.Kind
		if out.Kind == domain.KindNone {
			out.Kind = domain.KindNetwork
		}
		out.Error = res.Message
		if out.Error == "" {
			out.Error = err.Error()
		}
	}

	p.Logger.Debug("probe_done",
		zap.String("target", t.Name),
		zap.String("url", t.URL),
		zap.Bool("ok", out.OK),
		zap.Int("status", out.HTTPStatus),
		zap.Int64("latency_ms", out.LatencyMS),
		zap.String("kind", string(out.Kind)),
	)
	return out
}
