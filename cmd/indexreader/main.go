package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/accessor/cache"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/reload"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot/segment"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting index reader", "port", cfg.Server.Port)

	readerCfg := snapshot.Config{
		IDField:     cfg.Snapshot.IDField,
		TextField:   cfg.Snapshot.TextField,
		RawField:    cfg.Snapshot.RawField,
		TermVectors: cfg.Snapshot.TermVectors,
	}
	if err := readerCfg.Validate(); err != nil {
		slog.Error("invalid snapshot config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var cat *catalog.Catalog
	if cfg.Catalog.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		cat = catalog.New(db)
		if err := cat.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare snapshot catalog", "error", err)
			os.Exit(1)
		}
		slog.Info("snapshot catalog enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	open := segment.Opener(cfg.Snapshot.DataDir, readerCfg)
	initial, err := openInitial(ctx, cfg.Snapshot, cat, open)
	if err != nil {
		slog.Error("failed to open snapshot", "error", err)
		os.Exit(1)
	}
	manager := snapshot.NewManager(initial)
	defer manager.Close()
	if initial != nil {
		m.LiveDocuments.Set(float64(initial.LiveDocCount()))
	} else {
		slog.Warn("no snapshot configured, serving 503 until one is loaded")
	}

	var accessorCache *cache.AccessorCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, accessor caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
				IsFailure: cache.IsBackendFailure,
			})
			accessorCache = cache.New(redisClient, cfg.Redis.CacheTTL, m, cache.WithBreaker(breaker))
			slog.Info("accessor cache enabled",
				"addr", cfg.Redis.Addr,
				"ttl", cfg.Redis.CacheTTL,
			)
		}
	}

	reloadOpts := []reload.Option{
		reload.WithMetrics(m),
		reload.WithRetry(resilience.RetryConfig{MaxAttempts: 4, InitialDelay: 250 * time.Millisecond}),
	}
	if cat != nil {
		reloadOpts = append(reloadOpts, reload.WithCatalog(cat))
	}
	if accessorCache != nil {
		reloadOpts = append(reloadOpts, reload.WithSwapHook(func(ctx context.Context, oldID, _ string) {
			if oldID == "" {
				return
			}
			if err := accessorCache.Invalidate(ctx, oldID); err != nil {
				slog.Warn("failed to drop cache entries of replaced snapshot", "snapshot", oldID, "error", err)
			}
		}))
	}
	reloader := reload.New(manager, open, reloadOpts...)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, reloader.HandleMessage())
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index complete consumer error", "error", err)
			}
		}()
		slog.Info("listening for new snapshots", "topic", cfg.Kafka.Topics.IndexComplete)
	}

	checker := health.NewChecker()
	checker.Register("snapshot", func(ctx context.Context) health.ComponentHealth {
		lease, err := manager.Acquire()
		if err != nil {
			return health.Down(err.Error())
		}
		defer lease.Release()
		if err := lease.Store().Check(); err != nil {
			return health.Down(err.Error())
		}
		return health.Up(fmt.Sprintf("%s, %d live docs", lease.Store().ID(), lease.Store().LiveDocCount()))
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.Degraded("not configured")
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.Degraded(err.Error())
		}
		return health.Up("")
	})

	handlerOpts := []handler.Option{handler.WithMetrics(m)}
	if accessorCache != nil {
		handlerOpts = append(handlerOpts, handler.WithCache(accessorCache))
	}
	h := handler.New(manager, readerCfg, cfg.API, handlerOpts...)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == 0 || cfg.Metrics.Port == cfg.Server.Port {
			mux.Handle("GET /metrics", m.Handler())
		} else {
			metricsServer := startMetricsServer(cfg.Metrics.Port, m)
			defer metricsServer.Shutdown(context.Background())
		}
	}

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Trace(cfg.Server.SlowRequest)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("index reader listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("index reader stopped")
}

// openInitial opens the snapshot to serve at startup: the latest catalog
// entry when the catalog is enabled, otherwise the configured path. A nil
// store with a nil error means nothing is configured yet.
func openInitial(ctx context.Context, cfg config.SnapshotConfig, cat *catalog.Catalog, open reload.Opener) (snapshot.Store, error) {
	path := cfg.Path
	if cat != nil {
		entry, err := cat.Latest(ctx)
		switch {
		case err == nil:
			path = entry.Path
		case errors.Is(err, apperrors.ErrNotFound):
			slog.Info("snapshot catalog is empty", "fallback", cfg.Path)
		default:
			return nil, err
		}
	}
	if path == "" {
		return nil, nil
	}
	return open(path)
}

// startMetricsServer serves the scrape endpoint on its own port so it stays
// outside the API middleware chain.
func startMetricsServer(port int, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return server
}
