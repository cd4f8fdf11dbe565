package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/yyri/wecube-platform/internal/analytics"
	"github.com/yyri/wecube-platform/internal/api"
	"github.com/yyri/wecube-platform/internal/batch"
	"github.com/yyri/wecube-platform/internal/circuitbreaker"
	"github.com/yyri/wecube-platform/internal/config"
	"github.com/yyri/wecube-platform/internal/cron"
	"github.com/yyri/wecube-platform/internal/domain"
	"github.com/yyri/wecube-platform/internal/expression"
	"github.com/yyri/wecube-platform/internal/leaderelection"
	"github.com/yyri/wecube-platform/internal/metrics"
	"github.com/yyri/wecube-platform/internal/plugin"
	"github.com/yyri/wecube-platform/internal/reconciler"
	"github.com/yyri/wecube-platform/internal/store/postgres"
)

// analyticsWindow is the bucket width of outcome counters.
const analyticsWindow = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the batch execution API and background reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return invalidConfig(err)
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	logger = logger.WithPrefix("wecube-batch")
	logConfigWarnings(logger, &cfg)

	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store := postgres.New(db, cfg.DBOpTimeout)

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsHandler = promhttp.Handler()
		logger.Info("metrics enabled", "port", cfg.MetricsPort, "path", cfg.MetricsPath)
	} else {
		logger.Info("METRICS_ENABLED not set; metrics disabled")
	}

	service := newBatchService(cfg, store, sink, logger)

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		analyticsSink := analytics.NewRedisSink(redisClient, domain.AnalyticsConfig{
			Enabled:   true,
			Window:    analyticsWindow,
			Retention: cfg.AnalyticsRetention,
		}).WithLogger(logger)
		service = service.WithAnalytics(analyticsSink)
		logger.Info("analytics enabled", "redis", cfg.RedisAddr)
	} else {
		logger.Info("REDIS_ADDR not set; analytics disabled")
	}

	apiHandler := api.NewHandler(service, store).
		WithHealthChecker(db).
		WithLogger(logger)

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)

	var metricsServer *http.Server
	if metricsHandler != nil {
		if cfg.MetricsPort == "" {
			mux.Handle(cfg.MetricsPath, metricsHandler)
		} else {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, metricsHandler)
			metricsServer = &http.Server{
				Addr:              ":" + cfg.MetricsPort,
				Handler:           metricsMux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go serveHTTP(logger, "metrics", metricsServer)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go serveHTTP(logger, "http", httpServer)

	var electorWg sync.WaitGroup
	electorCtx, cancelElector := context.WithCancel(context.Background())
	defer cancelElector()

	if cfg.ReconcileEnabled {
		recon, err := newReconciler(cfg, store, sink, logger)
		if err != nil {
			return invalidConfig(err)
		}
		elector := newElector(cfg, db, recon, sink, logger)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		logger.Info("reconciler enabled", "schedule", cfg.ReconcileSchedule,
			"threshold", cfg.ReconcileThreshold, "batch_size", cfg.ReconcileBatchSize,
			"lock_key", cfg.LeaderLockKey)
	} else {
		logger.Info("RECONCILE_ENABLED not set; reconciler disabled")
	}

	logger.Info("started", "http", cfg.HTTPAddr, "workers", cfg.BatchWorkers, "version", version)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case received := <-sig:
		logger.Info("received signal, shutting down", "signal", received)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	// Phase 1: stop the reconciler and release the lock so a peer takes over.
	cancelElector()
	electorWg.Wait()

	// Phase 2: stop accepting requests; in-flight batches finish within the timeout.
	shutdown(logger, "http", httpServer, cfg.HTTPShutdownTimeout)
	if metricsServer != nil {
		shutdown(logger, "metrics", metricsServer, cfg.HTTPShutdownTimeout)
	}

	logger.Info("stopped")
	return nil
}

// newBatchService assembles the resolver, invoker and orchestrator.
func newBatchService(cfg config.Config, store *postgres.Store, sink metrics.Sink, logger *log.Logger) *batch.Service {
	var evaluator batch.ExpressionEvaluator = expression.NewClient(cfg.ExpressionServiceURL, cfg.ExpressionTimeout)
	if cfg.ExpressionCacheSize > 0 {
		evaluator = expression.NewCachingEvaluator(evaluator, cfg.ExpressionCacheSize, cfg.ExpressionCacheTTL)
	}

	resolver := batch.NewResolver(evaluator, store)
	invoker := batch.NewInvoker(store, store, plugin.NewClient(cfg.PluginCallTimeout)).
		WithMetrics(sink)
	if cfg.CircuitBreakerThreshold > 0 {
		invoker = invoker.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	return batch.New(store, resolver, invoker).
		WithWorkers(cfg.BatchWorkers).
		WithMetrics(sink).
		WithLogger(logger)
}

func newReconciler(cfg config.Config, store *postgres.Store, sink metrics.Sink, logger *log.Logger) (*reconciler.Reconciler, error) {
	schedule, err := cron.NewParser().Parse(cfg.ReconcileSchedule)
	if err != nil {
		return nil, err
	}
	return reconciler.New(reconciler.Config{
		Schedule:  schedule,
		Threshold: cfg.ReconcileThreshold,
		BatchSize: cfg.ReconcileBatchSize,
	}, store).
		WithMetrics(sink).
		WithLogger(logger), nil
}

// newElector runs the reconciler only while this instance holds the leader lock.
func newElector(cfg config.Config, db *sql.DB, recon *reconciler.Reconciler, sink metrics.Sink, logger *log.Logger) *leaderelection.Elector {
	var (
		mu      sync.Mutex
		running sync.WaitGroup
	)
	onElected := func(ctx context.Context) {
		mu.Lock()
		running.Add(1)
		mu.Unlock()
		defer running.Done()
		recon.Run(ctx)
	}
	onDemoted := func() {
		mu.Lock()
		defer mu.Unlock()
		running.Wait()
	}
	return leaderelection.New(db, cfg.LeaderLockKey, cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
		onElected, onDemoted).
		WithMetrics(sink).
		WithLogger(logger)
}

func serveHTTP(logger *log.Logger, name string, srv *http.Server) {
	logger.Info("server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "server", name, "err", err)
	}
}

func shutdown(logger *log.Logger, name string, srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "server", name, "err", err)
	}
	logger.Info("server stopped", "server", name)
}
