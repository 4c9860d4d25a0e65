package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"identity-guard/security/ratelimit"
	"identity-guard/security/ratelimit/application"
	"identity-guard/security/ratelimit/domain"
	"identity-guard/security/ratelimit/infra"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		usage     domain.UsageStore
		penalties domain.PenaltyStore
		rules     domain.RuleStore
		overrides domain.OverrideStore
	)
	var stats []domain.StatsStore

	switch cfg.storeBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}

		store := infra.NewRedisStore(rdb)
		usage, penalties, rules, overrides = store, store, store, store
		stats = append(stats, infra.NewRedisStatsStore(rdb))
	default:
		store := infra.NewMemoryStore()
		store.StartJanitor(ctx)
		usage, penalties, rules, overrides = store, store, store, store
		stats = append(stats, infra.NewMemoryStatsStore())
	}

	if cfg.metricsEnabled {
		stats = append(stats, infra.NewPrometheusStatsStore(prometheus.DefaultRegisterer))
	}

	throttle := infra.NewThrottle(cfg.slowdownRPS, cfg.slowdownBurst)
	throttle.StartJanitor(ctx)

	engine := &application.Engine{
		Registry:  application.Registry{Overrides: overrides},
		Tracker:   application.Tracker{Store: usage},
		Detector:  application.Detector{},
		Adaptive:  application.Controller{Rules: rules},
		Penalties: application.Manager{
			Store:  penalties,
			Alerts: infra.LogAlertSink{},
			Audit:  infra.LogAuditSink{},
		},
		Stats:    multiStats(stats),
		Throttle: throttle,
		Policy:   cfg.failurePolicy,
	}

	mux := http.NewServeMux()
	protect := func(action domain.Action, h http.Handler) http.Handler {
		return ratelimit.Middleware(ratelimit.Options{
			Engine:              engine,
			Action:              action,
			IdentifierHeader:    cfg.identifierHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			AddRateLimitHeaders: cfg.addHeaders,
		})(h)
	}

	mux.Handle("POST /login", protect(domain.ActionLogin, okHandler("login accepted")))
	mux.Handle("GET /handles/search", protect(domain.ActionHandleSearch, okHandler("search accepted")))
	mux.Handle("POST /password/reset", protect(domain.ActionPasswordReset, okHandler("reset accepted")))
	mux.Handle("GET /ratelimit/status", statusHandler(engine))
	mux.Handle("POST /admin/penalty", applyPenaltyHandler(engine))
	mux.Handle("DELETE /admin/penalty", removePenaltyHandler(engine))
	mux.Handle("POST /admin/config", configureHandler(engine))
	mux.Handle("POST /admin/adaptive", enableAdaptiveHandler(engine))
	if cfg.metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("guard listening on %s", cfg.listenAddr)
	log.Printf("store: backend=%s redisAddr=%q", cfg.storeBackend, cfg.redisAddr)
	log.Printf("slowdown throttle: rps=%.3f burst=%d", cfg.slowdownRPS, cfg.slowdownBurst)
	log.Printf("metrics: enabled=%v failOpen=%v", cfg.metricsEnabled, cfg.failurePolicy == application.FailOpen)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// multiStats encaminha a mesma decisão para todos os sinks configurados.
type multiStats []domain.StatsStore

func (m multiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var firstErr error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func okHandler(msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
	})
}

func statusHandler(engine *application.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identifier := r.URL.Query().Get("identifier")
		action, err := domain.ParseAction(r.URL.Query().Get("action"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		st, err := engine.Status(r.Context(), identifier, action)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

func applyPenaltyHandler(engine *application.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Identifier string `json:"identifier"`
			Action     string `json:"action"`
			Type       string `json:"type"`
			Duration   string `json:"duration"`
			Reason     string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		action, err := domain.ParseAction(req.Action)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var duration time.Duration
		if req.Duration != "" {
			duration, err = time.ParseDuration(req.Duration)
			if err != nil {
				http.Error(w, "invalid duration", http.StatusBadRequest)
				return
			}
		}

		rec, err := engine.ApplyPenalty(r.Context(), req.Identifier, action, domain.PenaltyType(req.Type), duration, req.Reason)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	})
}

func removePenaltyHandler(engine *application.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		action, err := domain.ParseAction(q.Get("action"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		err = engine.RemovePenalty(r.Context(), q.Get("identifier"), action, q.Get("reason"), q.Get("actor"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func configureHandler(engine *application.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action      string `json:"action"`
			MaxRequests int    `json:"max_requests"`
			Window      string `json:"window"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		action, err := domain.ParseAction(req.Action)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		window, err := time.ParseDuration(req.Window)
		if err != nil {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}

		err = engine.Configure(r.Context(), action, domain.Config{MaxRequests: req.MaxRequests, Window: window})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func enableAdaptiveHandler(engine *application.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Identifier string  `json:"identifier"`
			Action     string  `json:"action"`
			Baseline   int     `json:"baseline"`
			Increase   float64 `json:"increase_threshold"`
			Decrease   float64 `json:"decrease_threshold"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		action, err := domain.ParseAction(req.Action)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := domain.AdaptiveParams{IncreaseThreshold: req.Increase, DecreaseThreshold: req.Decrease}
		err = engine.EnableAdaptive(r.Context(), req.Identifier, action, req.Baseline, params)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownAction),
		errors.Is(err, domain.ErrEmptyIdentifier),
		errors.Is(err, domain.ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case domain.IsStoreError(err):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type config struct {
	listenAddr       string
	storeBackend     string
	redisAddr        string
	redisPassword    string
	redisDB          int
	identifierHeader string
	trustXFF         bool
	addHeaders       bool
	metricsEnabled   bool
	slowdownRPS      float64
	slowdownBurst    int
	failurePolicy    application.FailurePolicy
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.storeBackend = getenvDefault("STORE_BACKEND", "memory")
	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.identifierHeader = getenvDefault("IDENTIFIER_HEADER", "X-User-ID")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", true)
	cfg.metricsEnabled = getenvBoolDefault("METRICS_ENABLED", false)
	cfg.slowdownRPS = getenvFloatDefault("SLOWDOWN_RPS", 0.5)
	cfg.slowdownBurst = getenvIntDefault("SLOWDOWN_BURST", 1)
	if getenvBoolDefault("FAIL_OPEN", false) {
		cfg.failurePolicy = application.FailOpen
	}

	switch cfg.storeBackend {
	case "memory", "redis":
	default:
		return config{}, errors.New("STORE_BACKEND must be memory or redis")
	}
	if cfg.storeBackend == "redis" && cfg.redisAddr == "" {
		return config{}, errors.New("REDIS_ADDR is required when STORE_BACKEND=redis")
	}
	if cfg.slowdownRPS <= 0 {
		return config{}, errors.New("SLOWDOWN_RPS must be > 0")
	}
	if cfg.slowdownBurst <= 0 {
		return config{}, errors.New("SLOWDOWN_BURST must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
