package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/heartbeat/internal/breaker"
	"github.com/hamed0406/heartbeat/internal/domain"
	apimw "github.com/hamed0406/heartbeat/internal/httpapi/middleware"
	"github.com/hamed0406/heartbeat/internal/history"
	"github.com/hamed0406/heartbeat/internal/registry"
	"github.com/hamed0406/heartbeat/internal/scheduler"
)

// Monitor is the part of scheduler.Monitor the API reads from.
type Monitor interface {
	Targets() []domain.Target
	Status(name string, window time.Duration) (scheduler.TargetStatus, error)
	StatusAll(window time.Duration) []scheduler.TargetStatus
	TargetHistory(name string, limit int) ([]domain.ProbeOutcome, error)
	CheckOne(ctx context.Context, name string) (domain.ProbeOutcome, error)
	ResetBreaker(name string) (breaker.Snapshot, error)
	Reload(ctx context.Context) (int, error)
}

// Windows are the default lookback periods for status reads.
type Windows struct {
	Short time.Duration
	Long  time.Duration
}

type Server struct {
	Logger   *zap.Logger
	Monitor  Monitor
	Windows  Windows
	Health   health.Checker
	Gatherer prometheus.Gatherer

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only set it behind a proxy that overwrites those headers.
	TrustProxy bool
}

// NewServer wires the API. checks are extra readiness checks (database,
// redis) reported under /healthz.
func NewServer(l *zap.Logger, mon Monitor, windows Windows, checks ...health.Check) *Server {
	if windows.Short <= 0 {
		windows.Short = 24 * time.Hour
	}
	if windows.Long <= 0 {
		windows.Long = 7 * 24 * time.Hour
	}
	opts := []health.CheckerOption{
		health.WithCacheDuration(time.Second),
		health.WithTimeout(5 * time.Second),
		health.WithCheck(health.Check{
			Name: "targets",
			Check: func(context.Context) error {
				if len(mon.Targets()) == 0 {
					return errors.New("no targets registered")
				}
				return nil
			},
		}),
	}
	for _, c := range checks {
		opts = append(opts, health.WithCheck(c))
	}
	return &Server{
		Logger:   l,
		Monitor:  mon,
		Windows:  windows,
		Health:   health.NewChecker(opts...),
		Gatherer: prometheus.DefaultGatherer,
	}
}

// Router builds the HTTP handler. allowedOrigins empty means any origin.
// rpm/burst pairs <= 0 disable rate limiting for that group.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	if s.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Method(http.MethodGet, "/healthz", health.NewHandler(s.Health))
	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Group(func(pub chi.Router) {
			pub.Use(apimw.RateLimit(pubRPM, pubBurst))
			pub.Use(apimw.RequireAny(keys))
			pub.Get("/targets", s.handleListTargets)
			pub.Get("/status", s.handleStatusAll)
			pub.Get("/targets/{name}", s.handleTarget)
			pub.Get("/targets/{name}/history", s.handleHistory)
		})
		api.Group(func(adm chi.Router) {
			adm.Use(apimw.RateLimit(admRPM, admBurst))
			adm.Use(apimw.RequireAdmin(keys))
			adm.Post("/targets/{name}/probe", s.handleProbe)
			adm.Post("/breakers/{name}/reset", s.handleResetBreaker)
			adm.Post("/targets/reload", s.handleReload)
		})
	})

	return r
}

type statusResponse struct {
	Window  string                   `json:"window"`
	Targets []scheduler.TargetStatus `json:"targets"`
}

type targetDetail struct {
	scheduler.TargetStatus
	LongWindow *history.Metrics `json:"long_window,omitempty"`
}

type reloadResponse struct {
	Targets int `json:"targets"`
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Monitor.Targets())
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	win, err := s.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Window:  windowName(win),
		Targets: s.Monitor.StatusAll(win),
	})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	win, err := s.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	st, err := s.Monitor.Status(name, win)
	if err != nil {
		s.fail(w, err)
		return
	}
	detail := targetDetail{TargetStatus: st}
	// a reload can drop the target between the two reads
	if long, err := s.Monitor.Status(name, s.Windows.Long); err == nil {
		detail.LongWindow = &long.Metrics
	} else {
		s.Logger.Debug("long_window_unavailable", zap.String("target", name), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	h, err := s.Monitor.TargetHistory(chi.URLParam(r, "name"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if h == nil {
		h = []domain.ProbeOutcome{}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	out, err := s.Monitor.CheckOne(r.Context(), name)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.Logger.Info("manual_probe",
		zap.String("target", out.Target),
		zap.Bool("ok", out.OK),
		zap.Int64("latency_ms", out.LatencyMS),
	)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Monitor.ResetBreaker(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.Monitor.Reload(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Targets: n})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var cerr *registry.ConfigError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "invalid targets",
			"problems": cerr.Problems,
		})
	default:
		s.Logger.Error("api_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// window reads ?window=, accepting Go durations plus a "d" day suffix and
// "all". Missing means the short window.
func (s *Server) window(r *http.Request) (time.Duration, error) {
	return ParseWindow(r.URL.Query().Get("window"), s.Windows.Short)
}

// ParseWindow parses "24h", "7d", "all" or "" (def).
func ParseWindow(v string, def time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	switch {
	case v == "":
		return def, nil
	case v == "all":
		return 0, nil
	case strings.HasSuffix(v, "d"):
		days, err := strconv.Atoi(strings.TrimSuffix(v, "d"))
		if err != nil || days <= 0 {
			return 0, errors.New("window: bad day count")
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, errors.New("window: expected a positive duration like 24h or 7d")
	}
	return d, nil
}

func windowName(w time.Duration) string {
	if w <= 0 {
		return "all"
	}
	return w.String()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
