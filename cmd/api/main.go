package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/config"
	"github.com/hamed0406/heartbeat/internal/history"
	"github.com/hamed0406/heartbeat/internal/httpapi"
	apimw "github.com/hamed0406/heartbeat/internal/httpapi/middleware"
	"github.com/hamed0406/heartbeat/internal/logging"
	"github.com/hamed0406/heartbeat/internal/notify"
	"github.com/hamed0406/heartbeat/internal/probe"
	"github.com/hamed0406/heartbeat/internal/registry"
	"github.com/hamed0406/heartbeat/internal/repo"
	"github.com/hamed0406/heartbeat/internal/repo/memory"
	"github.com/hamed0406/heartbeat/internal/repo/postgres"
	rds "github.com/hamed0406/heartbeat/internal/repo/redis"
	"github.com/hamed0406/heartbeat/internal/scheduler"
	"github.com/hamed0406/heartbeat/internal/telemetry"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	var cfgPath string
	cmd := &cobra.Command{
		Use:           "heartbeat-api",
		Short:         "Probe configured targets and serve their status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", os.Getenv("HEARTBEAT_CONFIG"), "optional YAML config file")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

type stores struct {
	results repo.ResultStore
	alerts  repo.AlertStore
	targets repo.TargetStore
	checks  []health.Check
	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	mem := memory.New()
	s := &stores{results: mem, alerts: mem, targets: mem}

	if cfg.Database.URL != "" {
		pg, err := postgres.New(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.results, s.alerts, s.targets = pg, pg, pg
		s.checks = append(s.checks, health.Check{Name: "postgres", Check: pg.Ping})
		logger.Info("store_postgres")
	} else {
		logger.Info("store_memory")
	}

	if cfg.Redis.URL != "" {
		rs, err := rds.New(ctx, cfg.Redis.URL)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = rs.Close() })
		s.alerts = rs
		s.checks = append(s.checks, health.Check{Name: "redis", Check: rs.Ping})
		logger.Info("alert_store_redis")
	}
	return s, nil
}

// buildChecker layers the optional retry and DNS decorators over HTTP.
func buildChecker(cfg config.ProbeConfig) probe.Checker {
	var chk probe.Checker = probe.NewHTTPChecker(cfg.Timeout)
	if cfg.RetryAttempts > 1 {
		chk = &probe.RetryChecker{Inner: chk, Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
	}
	if cfg.DNSDiagnostics {
		chk = &probe.DNSDiagnoser{Inner: chk}
	}
	return chk
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var logOpts []logging.Option
	if cfg.Log.Console {
		logOpts = append(logOpts, logging.WithConsole(os.Stderr, zapcore.WarnLevel))
	}
	logger, err := logging.NewLogger(cfg.Log.Dir, cfg.Log.Level, logOpts...)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store_open_failed", zap.Error(err))
		return err
	}
	defer st.close()

	br := breaker.New(cfg.Breaker)
	prober := probe.NewProber(logger, buildChecker(cfg.Probe), br, probe.Options{
		Concurrency: cfg.Probe.Concurrency,
		Timeout:     cfg.Probe.Timeout,
	})
	mon := scheduler.NewMonitor(
		logger,
		registry.New(),
		prober,
		history.New(cfg.History.Cap),
		st.results,
		telemetry.New(prometheus.DefaultRegisterer),
		cfg.Probe.Interval,
	)
	br.OnStateChange = mon.OnBreakerChange

	if cfg.Targets.Source == config.SourceDatabase {
		mon.Source = scheduler.StoreSource(st.targets)
	} else {
		mon.Source = scheduler.FileSource(cfg.Targets.File)
	}
	n, err := mon.Reload(ctx)
	if err != nil {
		logger.Error("targets_load_failed", zap.Error(err))
		return err
	}
	if n == 0 {
		logger.Warn("no_targets", zap.String("source", cfg.Targets.Source))
	}
	if err := mon.Warm(ctx); err != nil {
		logger.Warn("monitor_warm_error", zap.Error(err))
	}

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if s := notify.NewSlack(cfg.Alert.SlackWebhook); s != nil {
		notifiers = append(notifiers, s)
	}
	alerter := scheduler.NewAlerter(logger, mon, st.alerts, notifiers, mon.Registry, scheduler.AlerterConfig{
		AlertOnRecovery: cfg.Alert.OnRecovery,
		Cooldown:        cfg.Alert.Cooldown,
		PollInterval:    cfg.Alert.PollInterval,
	})

	api := httpapi.NewServer(logger, mon, httpapi.Windows{
		Short: cfg.History.ShortWindow,
		Long:  cfg.History.LongWindow,
	}, st.checks...)
	api.TrustProxy = cfg.API.TrustProxy
	keys := apimw.Keys{Public: cfg.API.PublicKeys, Admin: cfg.API.AdminKeys}
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(keys, cfg.API.AllowedOrigins,
			cfg.API.PublicRPM, cfg.API.PublicBurst, cfg.API.AdminRPM, cfg.API.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		mon.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := alerter.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("api_shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
