// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/heartbeat/internal/config"
	"github.com/hamed0406/heartbeat/internal/registry"
	"github.com/hamed0406/heartbeat/internal/repo/postgres"
	rds "github.com/hamed0406/heartbeat/internal/repo/redis"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath string
		syncDB  bool
	)
	cmd := &cobra.Command{
		Use:           "preflight",
		Short:         "Validate configuration and the targets file before deploying",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath, syncDB)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", os.Getenv("HEARTBEAT_CONFIG"), "optional YAML config file")
	cmd.Flags().BoolVar(&syncDB, "sync-db", false, "upsert the targets file into the database catalog")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✖", err)
		os.Exit(1)
	}
}

func warn(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
func ok(msg string)   { fmt.Println("✔", msg) }

func run(ctx context.Context, cfgPath string, syncDB bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	ok("config valid, addr=" + cfg.Addr)

	if len(cfg.API.AdminKeys) == 0 {
		warn("api.admin_keys is empty; admin routes are open.")
	}
	if len(cfg.API.PublicKeys) == 0 {
		warn("api.public_keys is empty; read routes are open.")
	}
	for _, k := range append(cfg.API.PublicKeys, cfg.API.AdminKeys...) {
		if len(k) < 16 {
			warn("an API key is shorter than 16 characters.")
			break
		}
	}
	if len(cfg.API.AllowedOrigins) == 0 {
		warn("api.allowed_origins is empty; any origin is accepted by CORS.")
	} else {
		ok("allowed origins: " + strings.Join(cfg.API.AllowedOrigins, ","))
	}
	if cfg.Alert.SlackWebhook == "" {
		warn("alert.slack_webhook is empty; alerts are only logged.")
	}

	targets, err := registry.ReadFile(cfg.Targets.File)
	if err != nil {
		if cfg.Targets.Source == config.SourceFile || syncDB {
			return err
		}
		warn(err.Error())
	} else {
		if err := registry.Validate(targets); err != nil {
			return err
		}
		ok(fmt.Sprintf("%s: %d targets", cfg.Targets.File, len(targets)))
	}

	if cfg.Database.URL == "" {
		if cfg.Targets.Source == config.SourceDatabase || syncDB {
			return fmt.Errorf("database.url is required for targets.source=%s and --sync-db", config.SourceDatabase)
		}
		warn("database.url empty; the API will keep results in memory.")
	} else {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		st, err := postgres.New(pctx, cfg.Database.URL, zap.NewNop())
		if err != nil {
			return err
		}
		defer st.Close()
		ok("database reachable")

		if syncDB {
			if err := st.Migrate(pctx); err != nil {
				return err
			}
			for _, t := range targets {
				if err := st.Upsert(pctx, t); err != nil {
					return fmt.Errorf("upsert %s: %w", t.Name, err)
				}
			}
			ok(fmt.Sprintf("synced %d targets to the database", len(targets)))
		}
	}

	if cfg.Redis.URL != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rs, err := rds.New(rctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		_ = rs.Close()
		ok("redis reachable")
	}

	ok("preflight passed")
	return nil
}
