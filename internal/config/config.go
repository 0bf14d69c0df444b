// Package config loads settings from an optional YAML file and the
// environment. Environment keys are the dotted keys upper-cased with dots
// replaced by underscores, e.g. PROBE_CONCURRENCY.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/hamed0406/heartbeat/internal/breaker"
)

type Config struct {
	Addr     string         `mapstructure:"addr"` // API bind address, e.g., "127.0.0.1:8080" or ":8080" (Docker)
	Log      LogConfig      `mapstructure:"log"`
	Targets  TargetsConfig  `mapstructure:"targets"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Breaker  breaker.Config `mapstructure:"breaker"`
	History  HistoryConfig  `mapstructure:"history"`
	Alert    AlertConfig    `mapstructure:"alert"`
	API      APIConfig      `mapstructure:"api"`
}

type LogConfig struct {
	Dir     string `mapstructure:"dir"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"` // mirror warnings and errors to stderr
}

type TargetsConfig struct {
	File   string `mapstructure:"file"`
	Source string `mapstructure:"source"` // "file" or "database"
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"` // empty means in-memory store
}

type RedisConfig struct {
	URL string `mapstructure:"url"` // empty means alert state lives with results
}

type ProbeConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Interval       time.Duration `mapstructure:"interval"` // 0 disables the loop
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	DNSDiagnostics bool          `mapstructure:"dns_diagnostics"`
}

type HistoryConfig struct {
	Cap         int           `mapstructure:"cap"`
	ShortWindow time.Duration `mapstructure:"short_window"`
	LongWindow  time.Duration `mapstructure:"long_window"`
}

type AlertConfig struct {
	SlackWebhook string        `mapstructure:"slack_webhook"`
	OnRecovery   bool          `mapstructure:"on_recovery"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type APIConfig struct {
	PublicKeys     []string `mapstructure:"public_keys"`
	AdminKeys      []string `mapstructure:"admin_keys"`
	PublicRPM      int      `mapstructure:"public_rpm"`
	PublicBurst    int      `mapstructure:"public_burst"`
	AdminRPM       int      `mapstructure:"admin_rpm"`
	AdminBurst     int      `mapstructure:"admin_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustProxy     bool     `mapstructure:"trust_proxy"` // key rate limits by X-Forwarded-For
}

const (
	SourceFile     = "file"
	SourceDatabase = "database"
)

func setDefaults(v *viper.Viper) {
	bd := breaker.DefaultConfig()
	defaults := map[string]any{
		"addr":                      "127.0.0.1:8080",
		"log.dir":                   "logs",
		"log.level":                 "info",
		"log.console":               true,
		"targets.file":              "targets.yaml",
		"targets.source":            SourceFile,
		"database.url":              "",
		"redis.url":                 "",
		"probe.concurrency":         4,
		"probe.timeout":             10 * time.Second,
		"probe.interval":            60 * time.Second,
		"probe.retry_attempts":      1,
		"probe.retry_backoff":       300 * time.Millisecond,
		"probe.dns_diagnostics":     false,
		"breaker.failure_threshold": bd.FailureThreshold,
		"breaker.reset_timeout":     bd.ResetTimeout,
		"breaker.max_retries":       bd.MaxRetries,
		"breaker.backoff_base":      bd.BackoffBase,
		"breaker.backoff_max":       bd.BackoffMax,
		"history.cap":               100,
		"history.short_window":      24 * time.Hour,
		"history.long_window":       7 * 24 * time.Hour,
		"alert.slack_webhook":       "",
		"alert.on_recovery":         true,
		"alert.cooldown":            10 * time.Minute,
		"alert.poll_interval":       30 * time.Second,
		"api.public_keys":           []string{},
		"api.admin_keys":            []string{},
		"api.public_rpm":            120,
		"api.public_burst":          60,
		"api.admin_rpm":             60,
		"api.admin_burst":           30,
		"api.allowed_origins":       []string{},
		"api.trust_proxy":           false,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// legacyEnv keeps the environment names older deployments use.
var legacyEnv = map[string][]string{
	"addr":                {"ADDR", "API_ADDR"},
	"api.public_keys":     {"API_PUBLIC_KEYS", "PUBLIC_API_KEYS"},
	"api.admin_keys":      {"API_ADMIN_KEYS", "ADMIN_API_KEYS"},
	"api.public_rpm":      {"API_PUBLIC_RPM", "PUBLIC_RPM"},
	"api.public_burst":    {"API_PUBLIC_BURST", "PUBLIC_BURST"},
	"api.admin_rpm":       {"API_ADMIN_RPM", "ADMIN_RPM"},
	"api.admin_burst":     {"API_ADMIN_BURST", "ADMIN_BURST"},
	"alert.slack_webhook": {"ALERT_SLACK_WEBHOOK", "SLACK_WEBHOOK_URL"},
}

// Load reads path (optional; "" skips the file) and overlays environment
// variables. The result is not validated; call Validate.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.API.PublicKeys = splitList(c.API.PublicKeys)
	c.API.AdminKeys = splitList(c.API.AdminKeys)
	c.API.AllowedOrigins = splitList(c.API.AllowedOrigins)
	c.Targets.Source = strings.ToLower(strings.TrimSpace(c.Targets.Source))
	return c, nil
}

// splitList flattens comma lists and drops blanks, so "a, b" and
// ["a", "b"] decode the same.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		out = append(out, lo.FilterMap(strings.Split(s, ","), func(p string, _ int) (string, bool) {
			p = strings.TrimSpace(p)
			return p, p != ""
		})...)
	}
	return out
}

// Validate reports every bad setting at once.
func (c Config) Validate() error {
	var errs error
	check := func(ok bool, msg string) {
		if !ok {
			errs = multierr.Append(errs, errors.New(msg))
		}
	}
	check(c.Addr != "", "addr: must not be empty")
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	check(c.Targets.Source == SourceFile || c.Targets.Source == SourceDatabase,
		"targets.source: must be \"file\" or \"database\"")
	check(c.Targets.Source != SourceFile || c.Targets.File != "", "targets.file: required when targets.source is file")
	check(c.Targets.Source != SourceDatabase || c.Database.URL != "", "database.url: required when targets.source is database")
	check(c.Probe.Concurrency >= 1, "probe.concurrency: must be >= 1")
	check(c.Probe.Timeout > 0, "probe.timeout: must be > 0")
	check(c.Probe.Interval >= 0, "probe.interval: must be >= 0")
	check(c.Probe.RetryAttempts >= 1, "probe.retry_attempts: must be >= 1")
	check(c.Probe.RetryBackoff >= 0, "probe.retry_backoff: must be >= 0")
	errs = multierr.Append(errs, c.Breaker.Validate())
	check(c.History.Cap >= 1, "history.cap: must be >= 1")
	check(c.History.ShortWindow > 0, "history.short_window: must be > 0")
	check(c.History.LongWindow >= c.History.ShortWindow, "history.long_window: must be >= short_window")
	check(c.Alert.Cooldown >= 0, "alert.cooldown: must be >= 0")
	check(c.Alert.PollInterval > 0, "alert.poll_interval: must be > 0")
	check(c.API.PublicRPM > 0 && c.API.PublicBurst > 0, "api.public_rpm/public_burst: must be > 0")
	check(c.API.AdminRPM > 0 && c.API.AdminBurst > 0, "api.admin_rpm/admin_burst: must be > 0")
	return errs
}
