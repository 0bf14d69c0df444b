package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/domain"
	"github.com/hamed0406/heartbeat/internal/probe"
	"github.com/hamed0406/heartbeat/internal/registry"
	"github.com/hamed0406/heartbeat/internal/scheduler"
)

// errUnhealthy makes the process exit non-zero without printing usage.
var errUnhealthy = errors.New("one or more targets are down")

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "heartbeat",
		Short:         "Run health checks locally or query a running heartbeat API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(checkCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func checkCmd() *cobra.Command {
	var (
		file        string
		concurrency int
		timeout     time.Duration
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every target in a targets file once and print the outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := registry.ReadFile(file)
			if err != nil {
				return err
			}
			if err := registry.Validate(targets); err != nil {
				return err
			}

			prober := probe.NewProber(zap.NewNop(), probe.NewHTTPChecker(timeout),
				breaker.New(breaker.DefaultConfig()),
				probe.Options{Concurrency: concurrency, Timeout: timeout})
			rep := prober.ProbeAll(cmd.Context(), targets, probe.Options{})

			byName := rep.ByTarget()
			ordered := lo.FilterMap(targets, func(t domain.Target, _ int) (domain.ProbeOutcome, bool) {
				o, ok := byName[t.Name]
				return o, ok
			})

			out := cmd.OutOrStdout()
			if asJSON {
				rep.Outcomes = ordered
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				printOutcomes(out, ordered)
				fmt.Fprintf(out, "\nscan %s: %d targets in %dms\n", rep.ScanID, len(ordered), rep.ElapsedMS)
			}

			if lo.ContainsBy(ordered, func(o domain.ProbeOutcome) bool { return !o.OK }) {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "targets.yaml", "targets file")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", probe.DefaultConcurrency, "parallel checks")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", probe.DefaultTimeout, "per-request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printOutcomes(w io.Writer, outcomes []domain.ProbeOutcome) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSTATE\tHTTP\tLATENCY\tDETAIL")
	for _, o := range outcomes {
		state := "UP"
		if !o.OK {
			state = "DOWN"
		}
		code := "-"
		if o.HTTPStatus > 0 {
			code = fmt.Sprint(o.HTTPStatus)
		}
		detail := o.Error
		if o.OK && o.Version != "" {
			detail = "version " + o.Version
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n", o.Target, state, code, o.LatencyMS, detail)
	}
	tw.Flush()
}

type statusPayload struct {
	Window  string                   `json:"window"`
	Targets []scheduler.TargetStatus `json:"targets"`
}

func statusCmd() *cobra.Command {
	var (
		base   string
		key    string
		window string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of every target from a running API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			u := strings.TrimRight(base, "/") + "/api/status"
			if window != "" {
				u += "?window=" + url.QueryEscape(window)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			if key != "" {
				req.Header.Set("Authorization", "Bearer "+key)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("contacting API: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("API returned %s", resp.Status)
			}

			var p statusPayload
			if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
				return fmt.Errorf("decoding status: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TARGET\tSTATE\tBREAKER\tUPTIME(%s)\tAVG LATENCY\tINCIDENTS\n", p.Window)
			for _, s := range p.Targets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%.0fms\t%d\n",
					s.Target.Name, s.State, s.Breaker.State,
					s.Metrics.UptimeRatio*100, s.Metrics.AvgLatencyMS, s.Metrics.IncidentCount)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&base, "api", envOr("API_BASE", "http://localhost:8080"), "API base URL")
	cmd.Flags().StringVarP(&key, "key", "k", os.Getenv("API_KEY"), "API key")
	cmd.Flags().StringVarP(&window, "window", "w", "", "metrics window, e.g. 1h, 7d or all")
	return cmd
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
