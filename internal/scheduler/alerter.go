package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/heartbeat/internal/domain"
	"github.com/hamed0406/heartbeat/internal/notify"
	"github.com/hamed0406/heartbeat/internal/repo"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	PollInterval    time.Duration
}

// LatestSource yields the newest outcome per target. Both Monitor and the
// result stores implement it.
type LatestSource interface {
	Latest(ctx context.Context) ([]domain.ProbeOutcome, error)
}

// TargetLookup resolves a name to its target for richer messages.
type TargetLookup interface {
	Lookup(name string) (domain.Target, error)
}

type Alerter struct {
	logger   *zap.Logger
	results  LatestSource
	alertDB  repo.AlertStore
	notifier notify.Notifier
	targets  TargetLookup
	cfg      AlerterConfig
	now      func() time.Time
}

func NewAlerter(
	logger *zap.Logger,
	results LatestSource,
	alertDB repo.AlertStore,
	notifier notify.Notifier,
	targets TargetLookup,
	cfg AlerterConfig,
) *Alerter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Alerter{
		logger:   logger,
		results:  results,
		alertDB:  alertDB,
		notifier: notifier,
		targets:  targets,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()

	// initial pass
	a.logScan(a.scanOnce(ctx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			a.logScan(a.scanOnce(ctx))
		}
	}
}

func (a *Alerter) logScan(err error) {
	if err != nil {
		a.logger.Warn("alerter_scan_error", zap.Error(err))
	}
}

func (a *Alerter) scanOnce(ctx context.Context) error {
	rows, err := a.results.Latest(ctx)
	if err != nil {
		return err
	}

	now := a.now()

	for _, r := range rows {
		rec, err := a.alertDB.Get(ctx, r.Target)
		if err != nil {
			a.logger.Warn("alerter_get_error", zap.String("target", r.Target), zap.Error(err))
			continue
		}

		stateChanged := rec.Changed(r.OK)

		// Cooldown only suppresses repeated DOWN alerts; a target seen UP
		// for the first time is not a recovery.
		downAlert := stateChanged && !r.OK && rec.CooledDown(now, a.cfg.Cooldown)
		recoveryAlert := stateChanged && r.OK && rec != nil && a.cfg.AlertOnRecovery

		if downAlert || recoveryAlert {
			title, text := a.render(r)
			if err := a.notifier.Send(ctx, title, text); err != nil {
				// leave the record alone so the next scan retries
				a.logger.Warn("alerter_send_error", zap.String("target", r.Target), zap.Error(err))
				continue
			}
			a.logger.Info("alert_sent", zap.String("target", r.Target), zap.Bool("up", r.OK))
			if err := a.alertDB.Set(ctx, r.Target, r.OK, now); err != nil {
				a.logger.Warn("alerter_set_error", zap.String("target", r.Target), zap.Error(err))
			}
			continue
		}

		// A state change that was not announced (DOWN within cooldown,
		// recovery alerts disabled) is recorded with the previous send time
		// so the cooldown keeps running.
		if stateChanged {
			var lastSent time.Time
			if rec != nil && rec.LastSentAt != nil {
				lastSent = *rec.LastSentAt
			}
			if err := a.alertDB.Set(ctx, r.Target, r.OK, lastSent); err != nil {
				a.logger.Warn("alerter_set_error", zap.String("target", r.Target), zap.Error(err))
			}
		}
	}

	return nil
}

func (a *Alerter) render(r domain.ProbeOutcome) (title, text string) {
	// Title by state
	switch {
	case r.OK:
		title = "🟢 " + r.Target + " RECOVERED"
	case r.Skipped():
		title = "🟠 " + r.Target + " DOWN (checks skipped, circuit open)"
	default:
		title = "🔴 " + r.Target + " DOWN"
	}

	var b strings.Builder
	if a.targets != nil {
		if t, err := a.targets.Lookup(r.Target); err == nil {
			fmt.Fprintf(&b, "URL: %s\n", t.URL)
			if t.Owner != "" {
				fmt.Fprintf(&b, "Owner: %s\n", t.Owner)
			}
		}
	}

	// HTTP code text
	httpTxt := "n/a"
	if r.HTTPStatus != 0 {
		httpTxt = fmt.Sprintf("%d", r.HTTPStatus)
	}

	// Latency text
	latencyTxt := "n/a"
	if !r.Skipped() {
		latencyTxt = fmt.Sprintf("%d ms", r.LatencyMS)
	}

	reason := r.Error
	if reason == "" {
		reason = r.Kind.Label()
	}
	fmt.Fprintf(&b, "HTTP: %s\nLatency: %s\nReason: %s\nChecked: %s",
		httpTxt, latencyTxt, reason, r.Timestamp.Format(time.RFC3339))
	return title, b.String()
}
