package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pccwatch/tender-crawler/internal/captcha"
	"github.com/pccwatch/tender-crawler/internal/categories"
	clocksystem "github.com/pccwatch/tender-crawler/internal/clock/system"
	"github.com/pccwatch/tender-crawler/internal/config"
	"github.com/pccwatch/tender-crawler/internal/logging"
	"github.com/pccwatch/tender-crawler/internal/orchestrator"
	"github.com/pccwatch/tender-crawler/internal/progress"
	"github.com/pccwatch/tender-crawler/internal/progress/sinks"
	"github.com/pccwatch/tender-crawler/internal/session"
	"github.com/pccwatch/tender-crawler/internal/store/postgres"
	"github.com/pccwatch/tender-crawler/internal/tender"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env vars apply either way)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "tendercrawler:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	if cfg.Categories.File != "" {
		if _, err := categories.ImportFile(ctx, store, cfg.Categories.File, logger); err != nil {
			return fmt.Errorf("import categories: %w", err)
		}
	}

	runID := uuid.New()

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		metricsSrv := startMetricsServer(cfg.Metrics.Port, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}
		}()
	}

	driver, err := session.New(session.Config{
		BaseURL:          cfg.Session.BaseURL,
		Headless:         cfg.Session.Headless,
		UserAgent:        cfg.Session.UserAgent,
		NavTimeout:       cfg.NavTimeout(),
		PageQPS:          cfg.Session.PageQPS,
		PageCheckRetries: cfg.Session.PageCheckRetries,
		OrgLookupRetries: cfg.Session.OrgLookupRetries,
	}, logger)
	if err != nil {
		return fmt.Errorf("start browser session: %w", err)
	}
	defer driver.Close()

	matcher := captcha.NewGridMatcher(captcha.MatcherConfig{
		Threshold: cfg.Captcha.SimilarityThreshold,
	}, nil)
	solver := captcha.NewSolver(driver, matcher, captcha.SolverConfig{
		MaxAttempts: cfg.Captcha.MaxAttempts,
		VerifyWait:  cfg.VerifyWait(),
		KeepDebug:   cfg.Captcha.KeepDebug,
		DebugDir:    cfg.Captcha.DebugDir,
	}, logger)
	driver.UseSolver(solver)
	driver.UseEmitter(hub, runID)

	backoffInitial, backoffMax := cfg.DetailBackoff()
	orch := orchestrator.New(driver, store, hub, clocksystem.New(), orchestrator.Config{
		RunID: runID,
		Query: tender.SearchQuery{
			Query:     cfg.Search.Query,
			TimeRange: cfg.Search.TimeRange,
			PageSize:  cfg.Search.PageSize,
		},
		DetailRetries:  cfg.Detail.MaxRetries,
		BackoffInitial: backoffInitial,
		BackoffMax:     backoffMax,
	}, logger)

	logger.Info("starting crawl run",
		zap.String("run_id", runID.String()),
		zap.String("phase", string(cfg.Phase())),
		zap.String("query", cfg.Search.Query),
		zap.String("time_range", cfg.Search.TimeRange))

	if _, err := orch.Run(ctx, cfg.Phase()); err != nil {
		return fmt.Errorf("crawl run: %w", err)
	}
	return nil
}

// startMetricsServer serves /healthz and /metrics on its own port for the
// duration of the run.
func startMetricsServer(port int, logger *zap.Logger) *http.Server {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}
